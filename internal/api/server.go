package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/yangwenmai/infographer/internal/fanout"
	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/store"
	"github.com/yangwenmai/infographer/internal/worker"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// defaultSessionBuffer is the outbound queue length of a surface session.
const defaultSessionBuffer = 16

// Dispatcher is the generation entry point used by the handlers.
type Dispatcher interface {
	Announce(surfaceID, address string) bool
	RequestGeneration(ctx context.Context, address string) (string, error)
}

// Deps are the collaborators the server routes requests to. Credentials may
// be nil when the deployment runs unauthenticated.
type Deps struct {
	Dispatcher  Dispatcher
	Statuses    store.StatusReader
	Credentials store.CredentialStore
	Resolver    *identity.Resolver
	Hub         *fanout.Hub
	Runner      *worker.Runner
}

// Options tune the transport.
type Options struct {
	CORSOrigin    string
	SessionBuffer int
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	deps Deps
	opts Options
	mux  *http.ServeMux
}

// New creates a new API server.
func New(deps Deps, opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.SessionBuffer <= 0 {
		opts.SessionBuffer = defaultSessionBuffer
	}
	srv := &Server{deps: deps, opts: opts, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.opts.CORSOrigin, limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/ws", s.handleSession)
	s.mux.HandleFunc("POST /api/presence", s.handlePresence)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/credential", s.handleGetCredential)
	s.mux.HandleFunc("PUT /api/credential", s.handlePutCredential)
	s.mux.HandleFunc("DELETE /api/credential", s.handleDeleteCredential)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for the configured origin.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// originPatterns converts the CORS origin into websocket origin patterns.
func originPatterns(origin string) []string {
	if origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// generationStatus maps a generation failure to an HTTP status code.
func generationStatus(err error) int {
	switch model.KindOf(err) {
	case model.KindInvalidTarget:
		return http.StatusBadRequest
	case model.KindAuthRequired, model.KindAuthExpired:
		return http.StatusUnauthorized
	case model.KindRemote, model.KindMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ---------------------------------------------------------------------------
// Shared reads
// ---------------------------------------------------------------------------

// hasCredential reports whether generation can be requested. Unauthenticated
// deployments always can.
func (s *Server) hasCredential(ctx context.Context) (bool, error) {
	if s.deps.Credentials == nil {
		return true, nil
	}
	c, err := s.deps.Credentials.GetCredential(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Complete(), nil
}

// lookup returns the stored record for a resolved key, or an IDLE record.
func (s *Server) lookup(ctx context.Context, key string) (*model.StatusRecord, error) {
	rec, err := s.deps.Statuses.GetStatus(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		idle := model.Idle(key)
		return &idle, nil
	}
	return rec, err
}
