// Package surface implements the presentation side of the protocol: what a
// panel or popup shows for the address it displays, and how it stays in
// step with the authoritative state.
//
// A Surface keeps only its own local state. It never assumes it saw every
// notification; on attach, on navigation and on request it re-reads the
// store through its Backend.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
)

// Phase is what the surface renders.
type Phase string

const (
	PhaseAuthRequired Phase = "AUTH_REQUIRED"
	PhaseIdle         Phase = "IDLE"
	PhaseRunning      Phase = "RUNNING"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseFailed       Phase = "FAILED"
)

// View is the rendered state of one surface.
type View struct {
	Phase    Phase
	Address  string
	Key      string
	Enabled  bool
	ImageURL string
	Error    string
}

// Backend is how a surface reaches the service.
type Backend interface {
	Announce(ctx context.Context, surfaceID, address string) (bool, error)
	HasCredential(ctx context.Context) (bool, error)
	Status(ctx context.Context, address string) (model.StatusRecord, error)
	Generate(ctx context.Context, address string) (string, error)
}

// Option configures a Surface.
type Option func(*Surface)

// WithRenderer calls fn after every view change.
func WithRenderer(fn func(View)) Option {
	return func(s *Surface) { s.render = fn }
}

// Surface is one presentation context.
type Surface struct {
	id       string
	resolver *identity.Resolver
	backend  Backend
	render   func(View)

	mu      sync.Mutex
	view    View
	attachN uint64
}

// New creates a detached surface.
func New(id string, r *identity.Resolver, b Backend, opts ...Option) *Surface {
	s := &Surface{
		id:       id,
		resolver: r,
		backend:  b,
		view:     View{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the surface id.
func (s *Surface) ID() string { return s.id }

// View returns the current view.
func (s *Surface) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Attach points the surface at address, announces it and reconciles.
func (s *Surface) Attach(ctx context.Context, address string) error {
	key, _ := s.resolver.Resolve(address)
	s.mu.Lock()
	s.attachN++
	s.view = View{Phase: PhaseIdle, Address: address, Key: key}
	s.mu.Unlock()

	enabled, err := s.backend.Announce(ctx, s.id, address)
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	s.mu.Lock()
	if s.view.Address == address {
		s.view.Enabled = enabled
	}
	s.mu.Unlock()
	return s.Reconcile(ctx)
}

// Navigate handles an in-page navigation. It re-attaches only when the
// address changed and reports whether it did.
func (s *Surface) Navigate(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	same := s.view.Address == address
	s.mu.Unlock()
	if same {
		return false, nil
	}
	return true, s.Attach(ctx, address)
}

// Reconcile re-reads the authoritative state for the displayed address.
func (s *Surface) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	n, address, key := s.attachN, s.view.Address, s.view.Key
	s.mu.Unlock()

	hasCred, err := s.backend.HasCredential(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if !hasCred {
		s.apply(n, func(v *View) { setPhase(v, PhaseAuthRequired, "", "") })
		return nil
	}
	if key == "" {
		s.apply(n, func(v *View) { setPhase(v, PhaseIdle, "", "") })
		return nil
	}

	rec, err := s.backend.Status(ctx, address)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	s.apply(n, func(v *View) { renderRecord(v, rec.Status, rec.ArtifactURL, rec.ErrorDetail) })
	return nil
}

// HandleEvent applies a pushed notification and reports whether the view
// changed. Updates for other work items are ignored.
func (s *Surface) HandleEvent(ctx context.Context, ev model.Event) bool {
	switch ev.Type {
	case model.EventAuthExpired:
		s.mu.Lock()
		n := s.attachN
		s.mu.Unlock()
		return s.apply(n, func(v *View) { setPhase(v, PhaseAuthRequired, "", "") })

	case model.EventReconcile:
		if err := s.Reconcile(ctx); err != nil {
			slog.Warn("reconcile failed", "surface_id", s.id, "error", err)
			return false
		}
		return true

	default:
		s.mu.Lock()
		n, key := s.attachN, s.view.Key
		s.mu.Unlock()
		if ev.Key == "" || ev.Key != key {
			return false
		}
		return s.apply(n, func(v *View) { renderRecord(v, ev.Status, ev.ArtifactURL, ev.ErrorDetail) })
	}
}

// Generate requests generation for the displayed address. The view turns
// RUNNING immediately and is then rendered from the reply.
func (s *Surface) Generate(ctx context.Context) error {
	s.mu.Lock()
	n, address, key := s.attachN, s.view.Address, s.view.Key
	s.mu.Unlock()
	if key == "" {
		return model.NewGenerationError(model.KindInvalidTarget, model.DetailInvalidTarget, nil)
	}

	s.apply(n, func(v *View) { setPhase(v, PhaseRunning, "", "") })
	imageURL, err := s.backend.Generate(ctx, address)
	switch {
	case err == nil:
		s.apply(n, func(v *View) { setPhase(v, PhaseCompleted, imageURL, "") })
	case errors.Is(err, model.ErrAuthRequired), errors.Is(err, model.ErrAuthExpired):
		s.apply(n, func(v *View) { setPhase(v, PhaseAuthRequired, "", "") })
	default:
		s.apply(n, func(v *View) { setPhase(v, PhaseFailed, "", err.Error()) })
	}
	return err
}

// apply mutates the view unless the surface re-attached since n was read.
func (s *Surface) apply(n uint64, fn func(*View)) bool {
	s.mu.Lock()
	if s.attachN != n {
		s.mu.Unlock()
		return false
	}
	before := s.view
	fn(&s.view)
	after := s.view
	s.mu.Unlock()

	if before == after {
		return false
	}
	if s.render != nil {
		s.render(after)
	}
	return true
}

func setPhase(v *View, p Phase, imageURL, errDetail string) {
	v.Phase = p
	v.ImageURL = imageURL
	v.Error = errDetail
}

func renderRecord(v *View, status model.Status, imageURL, errDetail string) {
	switch status {
	case model.StatusRunning:
		setPhase(v, PhaseRunning, "", "")
	case model.StatusCompleted:
		setPhase(v, PhaseCompleted, imageURL, "")
	case model.StatusFailed:
		if errDetail == "" {
			errDetail = model.DetailUnknownFailure
		}
		setPhase(v, PhaseFailed, "", errDetail)
	case model.StatusAuthExpired:
		setPhase(v, PhaseAuthRequired, "", "")
	default:
		setPhase(v, PhaseIdle, "", "")
	}
}

// Run applies events until ctx is done or events is closed.
func (s *Surface) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ctx, ev)
		}
	}
}
