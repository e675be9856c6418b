// Package dispatcher owns the only channel to the remote generation service
// and the only writes to work-item state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yangwenmai/infographer/internal/fanout"
	"github.com/yangwenmai/infographer/internal/generator"
	"github.com/yangwenmai/infographer/internal/identity"
	"github.com/yangwenmai/infographer/internal/model"
	"github.com/yangwenmai/infographer/internal/store"
)

// Presence records which address a surface displays.
type Presence interface {
	Announce(surfaceID, address string) bool
}

// Dispatcher runs generation requests and propagates their state.
type Dispatcher struct {
	resolver *identity.Resolver
	statuses store.StatusStore
	creds    store.CredentialStore
	gen      generator.Generator
	notifier fanout.Notifier
	presence Presence
	newOpID  func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCredentials makes every request require a complete credential from h.
// Without it the deployment runs unauthenticated.
func WithCredentials(h store.CredentialStore) Option {
	return func(d *Dispatcher) { d.creds = h }
}

// WithPresence routes surface announcements to p.
func WithPresence(p Presence) Option {
	return func(d *Dispatcher) { d.presence = p }
}

// WithOperationIDs replaces the operation id source.
func WithOperationIDs(fn func() string) Option {
	return func(d *Dispatcher) { d.newOpID = fn }
}

// New creates a Dispatcher.
func New(r *identity.Resolver, statuses store.StatusStore, gen generator.Generator, n fanout.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver: r,
		statuses: statuses,
		gen:      gen,
		notifier: n,
		newOpID:  newOperationID,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// newOperationID returns a time-ordered UUIDv7, so ids of later runs sort
// after earlier ones.
func newOperationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Announce records that a surface is displaying address and reports whether
// its generation entry point should be enabled. It never touches state.
func (d *Dispatcher) Announce(surfaceID, address string) bool {
	if d.presence != nil {
		return d.presence.Announce(surfaceID, address)
	}
	_, ok := d.resolver.Resolve(address)
	return ok
}

// RequestGeneration generates the artifact for address. On success it returns
// the artifact URL; every failure is a *model.GenerationError except store
// errors on the RUNNING write, which abort before the remote call.
func (d *Dispatcher) RequestGeneration(ctx context.Context, address string) (string, error) {
	key, ok := d.resolver.Resolve(address)
	if !ok {
		return "", model.NewGenerationError(model.KindInvalidTarget, model.DetailInvalidTarget, nil)
	}

	var cred *model.Credential
	if d.creds != nil {
		c, err := d.creds.GetCredential(ctx)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return "", fmt.Errorf("read credential: %w", err)
		}
		if !c.Complete() {
			slog.Info("generation refused: no credential", "video_id", key)
			d.notify(model.EventFor(key, model.StatusAuthExpired, "", ""))
			return "", model.NewGenerationError(model.KindAuthRequired, model.DetailAuthMissing, nil)
		}
		cred = c
	}

	opID := d.newOpID()
	running := model.NewRunning(key, opID)
	if err := d.statuses.SetStatus(ctx, running); err != nil {
		return "", fmt.Errorf("persist running state: %w", err)
	}
	d.notify(model.RecordEvent(running))
	slog.Info("generation started", "video_id", key, "operation_id", opID)

	res, err := d.gen.Generate(ctx, address, cred)

	// The terminal write must land even if the caller went away mid-call.
	return d.finish(context.WithoutCancel(ctx), key, opID, res, err)
}

func (d *Dispatcher) finish(ctx context.Context, key, opID string, res *generator.Result, callErr error) (string, error) {
	switch {
	case errors.Is(callErr, generator.ErrUnauthorized):
		if d.creds != nil {
			if err := d.creds.ClearCredential(ctx); err != nil {
				slog.Error("failed to clear rejected credential", "error", err)
			}
		}
		d.persist(ctx, model.NewFailed(key, opID, model.DetailAuthExpired))
		d.notify(model.EventFor(key, model.StatusAuthExpired, "", model.DetailAuthExpired))
		slog.Warn("generation rejected: credential expired", "video_id", key, "operation_id", opID)
		return "", model.NewGenerationError(model.KindAuthExpired, model.DetailAuthExpired, callErr)

	case callErr != nil:
		rec := model.NewFailed(key, opID, callErr.Error())
		d.persist(ctx, rec)
		d.notify(model.RecordEvent(rec))
		slog.Error("generation failed", "video_id", key, "operation_id", opID, "error", callErr)
		return "", model.NewGenerationError(model.KindRemote, rec.ErrorDetail, callErr)

	case res == nil || res.ImageURL == "":
		rec := model.NewFailed(key, opID, model.DetailNoArtifact)
		d.persist(ctx, rec)
		d.notify(model.RecordEvent(rec))
		slog.Error("generation returned no artifact", "video_id", key, "operation_id", opID)
		return "", model.NewGenerationError(model.KindMalformedResponse, model.DetailNoArtifact, nil)

	default:
		rec := model.NewCompleted(key, opID, res.ImageURL)
		d.persist(ctx, rec)
		d.notify(model.RecordEvent(rec))
		slog.Info("generation completed", "video_id", key, "operation_id", opID)
		return res.ImageURL, nil
	}
}

// persist writes a terminal record. Overlapping runs for the same key are
// not coalesced: the last writer wins, and a stale overwrite is only logged.
func (d *Dispatcher) persist(ctx context.Context, rec model.StatusRecord) {
	if cur, err := d.statuses.GetStatus(ctx, rec.Key); err == nil && cur.OperationID != rec.OperationID {
		slog.Warn("terminal state overwrites a newer run",
			"video_id", rec.Key, "operation_id", rec.OperationID, "current_operation_id", cur.OperationID)
	}
	if err := d.statuses.SetStatus(ctx, rec); err != nil {
		slog.Error("failed to persist terminal state", "video_id", rec.Key, "status", rec.Status, "error", err)
	}
}

func (d *Dispatcher) notify(ev model.Event) {
	if d.notifier != nil {
		d.notifier.Broadcast(ev)
	}
}

// RecoverStale fails RUNNING records left behind by a previous process; no
// call can still complete them. It returns the number of records rewritten.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	stale, err := d.statuses.ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running: %w", err)
	}
	for _, rec := range stale {
		failed := model.NewFailed(rec.Key, rec.OperationID, model.DetailInterrupted)
		if err := d.statuses.SetStatus(ctx, failed); err != nil {
			return 0, fmt.Errorf("reset %s: %w", rec.Key, err)
		}
		d.notify(model.RecordEvent(failed))
	}
	return len(stale), nil
}
