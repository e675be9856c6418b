package fanout

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
)

func newTestHub() *Hub {
	return NewHub(identity.New(identity.Platform{
		WatchHosts: []string{"video.example"},
		ShortHosts: []string{"vid.example"},
	}))
}

// failingSink always returns err from Deliver.
type failingSink struct {
	id    string
	err   error
	calls int
}

func (s *failingSink) ID() string { return s.id }
func (s *failingSink) Deliver(model.Event) error {
	s.calls++
	return s.err
}

func drain(s *ChanSink) []model.Event {
	var out []model.Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBroadcast_MatchesDisplayedKey(t *testing.T) {
	h := newTestHub()
	watching := NewChanSink("tab-1", 4)
	short := NewChanSink("tab-2", 4)
	other := NewChanSink("tab-3", 4)
	for _, s := range []*ChanSink{watching, short, other} {
		h.Register(s)
	}
	require.True(t, h.Announce("tab-1", "https://video.example/watch?v=XYZ"))
	require.True(t, h.Announce("tab-2", "https://vid.example/XYZ"))
	require.True(t, h.Announce("tab-3", "https://video.example/watch?v=ABC"))

	h.Broadcast(model.EventFor("XYZ", model.StatusCompleted, "https://cdn.example/img1.png", ""))

	for _, s := range []*ChanSink{watching, short} {
		got := drain(s)
		require.Len(t, got, 1, s.ID())
		require.Equal(t, model.EventUpdate, got[0].Type)
		require.Equal(t, "https://cdn.example/img1.png", got[0].ArtifactURL)
	}
	require.Empty(t, drain(other))
}

func TestBroadcast_AuthExpiredReachesEveryone(t *testing.T) {
	h := newTestHub()
	onVideo := NewChanSink("tab-1", 4)
	offVideo := NewChanSink("tab-2", 4)
	silent := NewChanSink("popup", 4)
	h.Register(onVideo)
	h.Register(offVideo)
	h.Register(silent)
	h.Announce("tab-1", "https://video.example/watch?v=XYZ")
	require.False(t, h.Announce("tab-2", "https://video.example/feed"))

	h.Broadcast(model.EventFor("", model.StatusAuthExpired, "", ""))

	for _, s := range []*ChanSink{onVideo, offVideo, silent} {
		got := drain(s)
		require.Len(t, got, 1, s.ID())
		require.Equal(t, model.EventAuthExpired, got[0].Type)
	}
}

func TestBroadcast_FailuresDoNotStopDelivery(t *testing.T) {
	h := newTestHub()
	busy := &failingSink{id: "busy", err: ErrSinkBusy}
	broken := &failingSink{id: "broken", err: errors.New("write: broken pipe")}
	gone := &failingSink{id: "gone", err: ErrSinkClosed}
	ok := NewChanSink("ok", 4)
	for _, s := range []Sink{busy, broken, gone, ok} {
		h.Register(s)
		h.Announce(s.ID(), "https://video.example/watch?v=XYZ")
	}

	h.Broadcast(model.EventFor("XYZ", model.StatusRunning, "", ""))

	require.Len(t, drain(ok), 1)
	require.Equal(t, 1, busy.calls)
	require.Equal(t, 1, broken.calls)
	// Closed sinks are unregistered; the others stay.
	require.Equal(t, 3, h.Len())

	h.Broadcast(model.EventFor("XYZ", model.StatusCompleted, "u", ""))
	require.Equal(t, 1, gone.calls)
}

// reopenedSink stands for a surface that reconnects under the same ID while
// its old sink is reporting closed.
type reopenedSink struct {
	id   string
	hub  *Hub
	next Sink
}

func (s *reopenedSink) ID() string { return s.id }
func (s *reopenedSink) Deliver(model.Event) error {
	s.hub.Register(s.next)
	s.hub.Announce(s.id, "https://video.example/watch?v=XYZ")
	return ErrSinkClosed
}

func TestBroadcast_ClosedSinkKeepsReplacement(t *testing.T) {
	h := newTestHub()
	fresh := NewChanSink("popup", 4)
	h.Register(&reopenedSink{id: "popup", hub: h, next: fresh})
	h.Announce("popup", "https://video.example/watch?v=XYZ")

	h.Broadcast(model.EventFor("XYZ", model.StatusRunning, "", ""))
	require.Equal(t, 1, h.Len())
	require.True(t, h.Enabled("popup"))

	h.Broadcast(model.EventFor("XYZ", model.StatusCompleted, "u", ""))
	got := drain(fresh)
	require.Len(t, got, 1)
	require.Equal(t, model.StatusCompleted, got[0].Status)
}

func TestBroadcast_NoSinks(t *testing.T) {
	h := newTestHub()
	h.Broadcast(model.EventFor("XYZ", model.StatusFailed, "", "boom"))
}

func TestChanSink_DropsWhenFull(t *testing.T) {
	s := NewChanSink("tab", 1)
	require.NoError(t, s.Deliver(model.Event{Type: model.EventUpdate}))
	require.ErrorIs(t, s.Deliver(model.Event{Type: model.EventUpdate}), ErrSinkBusy)
	s.Close()
	require.ErrorIs(t, s.Deliver(model.Event{Type: model.EventUpdate}), ErrSinkClosed)
	require.Len(t, drain(s), 1)
}

func TestAnnounceAndPrune(t *testing.T) {
	h := newTestHub()
	require.True(t, h.Announce("popup-1", "https://vid.example/XYZ"))
	require.True(t, h.Enabled("popup-1"))

	addr, ok := h.Displayed("popup-1")
	require.True(t, ok)
	require.Equal(t, "https://vid.example/XYZ", addr)

	require.False(t, h.Announce("popup-1", "https://elsewhere.example/"))
	require.False(t, h.Enabled("popup-1"))

	live := NewChanSink("tab-live", 1)
	h.Register(live)
	h.Announce("tab-live", "https://vid.example/XYZ")

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, h.Prune(time.Millisecond))
	_, ok = h.Displayed("popup-1")
	require.False(t, ok)
	require.True(t, h.Enabled("tab-live"))
}
