package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/protocol"
)

// ErrClientClosed is returned for requests on a closed session.
var ErrClientClosed = errors.New("surface: session closed")

var _ Backend = (*Client)(nil)

// Client is a Backend speaking to the service over a websocket session.
// Every request carries an id and waits for the reply with that id; pushes
// arrive on Events.
type Client struct {
	conn   *websocket.Conn
	events chan model.Event
	seq    atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan protocol.Reply
	err     error
}

// Dial opens a session at url, e.g. ws://localhost:8080/api/ws.
func Dial(ctx context.Context, url string, buffer int) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if buffer <= 0 {
		buffer = 16
	}
	c := &Client{
		conn:    conn,
		events:  make(chan model.Event, buffer),
		pending: make(map[string]chan protocol.Reply),
	}
	go c.readLoop()
	return c, nil
}

// Events returns pushed notifications. It is closed when the session ends.
func (c *Client) Events() <-chan model.Event { return c.events }

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		reply, ev, err := protocol.DecodeServerFrame(data)
		if err != nil {
			slog.Warn("dropping server frame", "error", err)
			continue
		}
		if reply != nil {
			c.resolve(*reply)
			continue
		}
		select {
		case c.events <- *ev:
		default:
			slog.Warn("surface event dropped", "type", ev.Type, "video_id", ev.Key)
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) resolve(r protocol.Reply) {
	c.mu.Lock()
	ch, ok := c.pending[r.ReplyTo]
	delete(c.pending, r.ReplyTo)
	c.mu.Unlock()
	if !ok {
		slog.Debug("reply without pending request", "reply_to", r.ReplyTo)
		return
	}
	ch <- r
}

func (c *Client) call(ctx context.Context, typ protocol.RequestType, address string) (*protocol.Reply, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan protocol.Reply, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	b, err := json.Marshal(protocol.Request{ID: id, Type: typ, Address: address})
	if err != nil {
		return nil, err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		if !r.Success {
			return nil, replyError(r)
		}
		return &r, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// replyError rebuilds a typed error from a failed reply so callers can match
// kinds with errors.Is.
func replyError(r protocol.Reply) error {
	if r.Kind != "" {
		return model.NewGenerationError(r.Kind, r.Error, nil)
	}
	return errors.New(r.Error)
}

// Announce reports presence for this session. The server identifies the
// surface by its session, so surfaceID is not sent.
func (c *Client) Announce(ctx context.Context, _ string, address string) (bool, error) {
	r, err := c.call(ctx, protocol.Announce, address)
	if err != nil {
		return false, err
	}
	return r.Enabled, nil
}

func (c *Client) HasCredential(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, protocol.Credential, "")
	if err != nil {
		return false, err
	}
	return r.HasCredential, nil
}

func (c *Client) Status(ctx context.Context, address string) (model.StatusRecord, error) {
	r, err := c.call(ctx, protocol.Status, address)
	if err != nil {
		return model.StatusRecord{}, err
	}
	if r.Record == nil {
		return model.StatusRecord{Status: model.StatusIdle}, nil
	}
	return *r.Record, nil
}

func (c *Client) Generate(ctx context.Context, address string) (string, error) {
	r, err := c.call(ctx, protocol.Generate, address)
	if err != nil {
		return "", err
	}
	return r.ImageURL, nil
}
