package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yangwenmai/infographer/internal/model"
)

// ErrStopped is returned by Go once Shutdown has begun.
var ErrStopped = errors.New("worker: runner stopped")

// Runner executes background tasks that must outlive the request that
// started them, and drains them on shutdown.
type Runner struct {
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	inflight atomic.Int64
}

// New creates a Runner.
func New() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{base: ctx, cancel: cancel}
}

// Go runs fn in its own goroutine. fn receives a context that is cancelled
// only when Shutdown gives up waiting.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	r.inflight.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inflight.Add(-1)

		start := time.Now()
		if err := fn(r.base); err != nil {
			slog.Warn("task failed", "task", name, "kind", kindOf(err), "error", err, "elapsed", time.Since(start).String())
			return
		}
		slog.Debug("task done", "task", name, "elapsed", time.Since(start).String())
	}()
	return nil
}

// InFlight returns the number of running tasks.
func (r *Runner) InFlight() int {
	return int(r.inflight.Load())
}

// Shutdown stops accepting tasks and waits for running ones. If ctx expires
// first, running tasks are cancelled and ctx.Err() is returned once they exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		slog.Info("runner stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("runner shutdown timed out, cancelling tasks", "in_flight", r.InFlight())
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Every calls fn once per interval until ctx is cancelled. It blocks.
func Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	slog.Info("periodic task started", "task", name, "interval", interval.String())
	for {
		if !sleep(ctx, interval) {
			slog.Info("periodic task stopped", "task", name)
			return
		}
		fn(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func kindOf(err error) string {
	if k := model.KindOf(err); k != "" {
		return string(k)
	}
	return "unknown"
}
