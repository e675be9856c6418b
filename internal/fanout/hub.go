// Package fanout delivers state-change notifications to live presentation
// surfaces. Delivery is best-effort: an unreachable surface never blocks or
// fails delivery to the others.
package fanout

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
)

var (
	// ErrSinkClosed is returned by a sink whose surface has gone away. The
	// hub unregisters it.
	ErrSinkClosed = errors.New("fanout: sink closed")
	// ErrSinkBusy is returned when a sink cannot accept an event without
	// blocking. The event is dropped for that sink only.
	ErrSinkBusy = errors.New("fanout: sink busy")
)

// Sink is a live surface endpoint. Deliver must not block.
type Sink interface {
	ID() string
	Deliver(ev model.Event) error
}

// Notifier is what the dispatcher needs from the hub.
type Notifier interface {
	Broadcast(ev model.Event)
}

type presence struct {
	address string
	key     string
	enabled bool
	seenAt  time.Time
}

// Hub tracks live sinks and the address each surface last announced.
type Hub struct {
	resolver *identity.Resolver

	mu       sync.RWMutex
	sinks    map[string]Sink
	presence map[string]presence
}

// NewHub creates an empty hub resolving addresses with r.
func NewHub(r *identity.Resolver) *Hub {
	return &Hub{
		resolver: r,
		sinks:    make(map[string]Sink),
		presence: make(map[string]presence),
	}
}

// Register adds a live sink. A sink with the same ID is replaced.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	h.sinks[s.ID()] = s
	h.mu.Unlock()
}

// Unregister removes the sink and its presence record.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.sinks, id)
	delete(h.presence, id)
	h.mu.Unlock()
}

// unregisterSink removes s only if it is still the sink registered under its
// ID; a replacement registered meanwhile is kept.
func (h *Hub) unregisterSink(s Sink) {
	id := s.ID()
	h.mu.Lock()
	if h.sinks[id] == s {
		delete(h.sinks, id)
		delete(h.presence, id)
	}
	h.mu.Unlock()
}

// Announce records the address a surface is displaying. The returned value
// reports whether the generation entry point is enabled for that surface,
// which is the case only when the address resolves to a work item.
func (h *Hub) Announce(surfaceID, address string) bool {
	key, ok := h.resolver.Resolve(address)
	h.mu.Lock()
	h.presence[surfaceID] = presence{address: address, key: key, enabled: ok, seenAt: time.Now()}
	h.mu.Unlock()
	return ok
}

// Enabled reports whether the surface last announced a resolvable address.
func (h *Hub) Enabled(surfaceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presence[surfaceID].enabled
}

// Displayed returns the address the surface last announced.
func (h *Hub) Displayed(surfaceID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.presence[surfaceID]
	return p.address, ok
}

// Len returns the number of live sinks.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Broadcast delivers ev to every matching live sink. Events for a work item
// go to sinks displaying that item; AUTH_EXPIRED and RECONCILE go to all.
// Per-sink failures are logged and swallowed.
func (h *Hub) Broadcast(ev model.Event) {
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.sinks))
	for id, s := range h.sinks {
		if ev.Broadcast() || (ev.Key != "" && h.presence[id].key == ev.Key) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	var closed []Sink
	for _, s := range targets {
		err := s.Deliver(ev)
		switch {
		case err == nil:
		case errors.Is(err, ErrSinkClosed):
			closed = append(closed, s)
		default:
			slog.Debug("notification dropped", "surface_id", s.ID(), "type", ev.Type, "error", err)
		}
	}
	for _, s := range closed {
		h.unregisterSink(s)
	}
	slog.Debug("notification broadcast", "type", ev.Type, "video_id", ev.Key, "status", ev.Status, "delivered", len(targets)-len(closed))
}

// Prune drops presence records older than maxAge that have no live sink, so
// HTTP-only surfaces that went away do not accumulate.
func (h *Hub) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, p := range h.presence {
		if _, live := h.sinks[id]; live {
			continue
		}
		if p.seenAt.Before(cutoff) {
			delete(h.presence, id)
			n++
		}
	}
	return n
}
