package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/yangwenmai/infographer/internal/fanout"
	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/protocol"
)

const (
	sessionReadLimit    = 64 << 10
	sessionWriteTimeout = 10 * time.Second
)

var _ fanout.Sink = (*session)(nil)

// session is one attached surface. Pushes and replies share a single
// outbound queue drained by writeLoop.
type session struct {
	id   string
	conn *websocket.Conn
	out  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, buffer int) *session {
	return &session{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *session) ID() string { return s.id }

// Deliver queues a push without blocking.
func (s *session) Deliver(ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return fanout.ErrSinkClosed
	default:
	}
	select {
	case s.out <- b:
		return nil
	case <-s.done:
		return fanout.ErrSinkClosed
	default:
		return fanout.ErrSinkBusy
	}
}

// reply queues a reply, waiting for room. Replies are never dropped while
// the session is open.
func (s *session) reply(ctx context.Context, r protocol.Reply) {
	b, err := json.Marshal(r)
	if err != nil {
		slog.Error("encode reply", "surface_id", s.id, "error", err)
		return
	}
	select {
	case s.out <- b:
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case b := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, sessionWriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				slog.Debug("session write failed", "surface_id", s.id, "error", err)
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// GET /api/ws
// ---------------------------------------------------------------------------

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.CORSOrigin),
	})
	if err != nil {
		slog.Warn("session upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(sessionReadLimit)

	sess := newSession(conn, s.opts.SessionBuffer)
	s.deps.Hub.Register(sess)
	slog.Info("surface attached", "surface_id", sess.id, "sessions", s.deps.Hub.Len())

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		sess.close()
		s.deps.Hub.Unregister(sess.id)
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("surface detached", "surface_id", sess.id)
	}()

	go func() {
		sess.writeLoop(ctx)
		cancel()
	}()
	s.readLoop(ctx, sess)
}

func (s *Server) readLoop(ctx context.Context, sess *session) {
	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					slog.Debug("session read ended", "surface_id", sess.id, "error", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			sess.reply(ctx, protocol.Reply{Type: protocol.ReplyType, Error: "binary frames are not supported"})
			continue
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			sess.reply(ctx, protocol.Reply{Type: protocol.ReplyType, ReplyTo: protocol.FrameID(data), Error: err.Error()})
			continue
		}
		s.handleFrame(ctx, sess, req)
	}
}

func (s *Server) handleFrame(ctx context.Context, sess *session, req *protocol.Request) {
	switch req.Type {
	case protocol.Announce:
		r := protocol.NewReply(req.ID)
		r.Enabled = s.deps.Dispatcher.Announce(sess.id, req.Address)
		sess.reply(ctx, r)

	case protocol.Status:
		key, ok := s.deps.Resolver.Resolve(req.Address)
		if !ok {
			sess.reply(ctx, protocol.ErrorReply(req.ID, model.NewGenerationError(model.KindInvalidTarget, model.DetailInvalidTarget, nil)))
			return
		}
		hasCred, err := s.hasCredential(ctx)
		if err != nil {
			sess.reply(ctx, protocol.ErrorReply(req.ID, err))
			return
		}
		rec, err := s.lookup(ctx, key)
		if err != nil {
			sess.reply(ctx, protocol.ErrorReply(req.ID, err))
			return
		}
		r := protocol.NewReply(req.ID)
		r.Record = rec
		r.HasCredential = hasCred
		sess.reply(ctx, r)

	case protocol.Credential:
		hasCred, err := s.hasCredential(ctx)
		if err != nil {
			sess.reply(ctx, protocol.ErrorReply(req.ID, err))
			return
		}
		r := protocol.NewReply(req.ID)
		r.HasCredential = hasCred
		sess.reply(ctx, r)

	case protocol.Generate:
		// The call outlives the session; only the reply needs it alive.
		id, address := req.ID, req.Address
		err := s.deps.Runner.Go("generate", func(taskCtx context.Context) error {
			imageURL, err := s.deps.Dispatcher.RequestGeneration(taskCtx, address)
			if err != nil {
				sess.reply(taskCtx, protocol.ErrorReply(id, err))
				return err
			}
			r := protocol.NewReply(id)
			r.ImageURL = imageURL
			sess.reply(taskCtx, r)
			return nil
		})
		if err != nil {
			sess.reply(ctx, protocol.ErrorReply(id, err))
		}
	}
}
