package surface

import (
	"context"
	"errors"

	"github.com/yangwenmai/infographer/internal/fanout"
	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/store"
)

// Dispatcher is the generation entry point a Direct backend calls.
type Dispatcher interface {
	Announce(surfaceID, address string) bool
	RequestGeneration(ctx context.Context, address string) (string, error)
}

var _ Backend = (*Direct)(nil)

// Direct is an in-process Backend. Credentials may be nil when the
// deployment runs unauthenticated.
type Direct struct {
	Dispatcher  Dispatcher
	Statuses    store.StatusReader
	Credentials store.CredentialStore
	Resolver    *identity.Resolver
	Hub         *fanout.Hub
}

func (d *Direct) Announce(_ context.Context, surfaceID, address string) (bool, error) {
	return d.Dispatcher.Announce(surfaceID, address), nil
}

func (d *Direct) HasCredential(ctx context.Context) (bool, error) {
	if d.Credentials == nil {
		return true, nil
	}
	c, err := d.Credentials.GetCredential(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Complete(), nil
}

func (d *Direct) Status(ctx context.Context, address string) (model.StatusRecord, error) {
	key, ok := d.Resolver.Resolve(address)
	if !ok {
		return model.StatusRecord{}, model.NewGenerationError(model.KindInvalidTarget, model.DetailInvalidTarget, nil)
	}
	rec, err := d.Statuses.GetStatus(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return model.Idle(key), nil
	}
	if err != nil {
		return model.StatusRecord{}, err
	}
	return *rec, nil
}

func (d *Direct) Generate(ctx context.Context, address string) (string, error) {
	return d.Dispatcher.RequestGeneration(ctx, address)
}

// Subscribe registers s with the hub and returns its event stream. The
// returned func unregisters it.
func (d *Direct) Subscribe(s *Surface, buffer int) (<-chan model.Event, func()) {
	sink := fanout.NewChanSink(s.ID(), buffer)
	d.Hub.Register(sink)
	return sink.Events(), func() {
		d.Hub.Unregister(s.ID())
		sink.Close()
	}
}
