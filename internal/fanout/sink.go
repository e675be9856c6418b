package fanout

import (
	"sync"

	"github.com/yangwenmai/infographer/internal/model"
)

// ChanSink is an in-process sink backed by a buffered channel. When the
// buffer is full further events are dropped.
type ChanSink struct {
	id string
	ch chan model.Event

	mu     sync.Mutex
	closed bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(id string, buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChanSink{id: id, ch: make(chan model.Event, buffer)}
}

func (s *ChanSink) ID() string { return s.id }

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan model.Event { return s.ch }

func (s *ChanSink) Deliver(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrSinkBusy
	}
}

// Close stops delivery. Events already buffered remain readable.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
