package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/infographer/internal/model"
)

func TestRunner_ShutdownWaitsForTasks(t *testing.T) {
	r := New()
	release := make(chan struct{})
	var finished atomic.Bool

	require.NoError(t, r.Go("generate", func(ctx context.Context) error {
		<-release
		finished.Store(true)
		return nil
	}))
	require.Eventually(t, func() bool { return r.InFlight() == 1 }, time.Second, time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, r.Shutdown(context.Background()))
	require.True(t, finished.Load())
	require.Zero(t, r.InFlight())
}

func TestRunner_RejectsAfterShutdown(t *testing.T) {
	r := New()
	require.NoError(t, r.Shutdown(context.Background()))
	err := r.Go("late", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrStopped)
}

func TestRunner_ShutdownTimeoutCancelsTasks(t *testing.T) {
	r := New()
	var sawCancel atomic.Bool
	require.NoError(t, r.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, sawCancel.Load())
}

func TestRunner_TaskErrorsAreContained(t *testing.T) {
	r := New()
	require.NoError(t, r.Go("auth", func(context.Context) error {
		return model.NewGenerationError(model.KindAuthExpired, model.DetailAuthExpired, nil)
	}))
	require.NoError(t, r.Go("plain", func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, "RemoteError", kindOf(model.NewGenerationError(model.KindRemote, "x", nil)))
	require.Equal(t, "unknown", kindOf(errors.New("x")))
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, "prune", time.Millisecond, func(context.Context) {
			if ticks.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Every did not stop after cancel")
	}
	require.GreaterOrEqual(t, ticks.Load(), int32(3))
}
