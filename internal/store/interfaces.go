package store

import (
	"context"

	"github.com/yangwenmai/infographer/internal/model"
)

// StatusReader provides read access to work-item state. Surfaces use it to
// reconcile on attach.
type StatusReader interface {
	GetStatus(ctx context.Context, key string) (*model.StatusRecord, error)
}

// StatusWriter replaces the state of one work item. Only the dispatcher
// writes; there is no per-key locking.
type StatusWriter interface {
	SetStatus(ctx context.Context, rec model.StatusRecord) error
}

// StatusLister enumerates records by status, used for boot-time recovery.
type StatusLister interface {
	ListByStatus(ctx context.Context, status model.Status) ([]model.StatusRecord, error)
}

// CredentialStore holds the single optional credential record.
type CredentialStore interface {
	GetCredential(ctx context.Context) (*model.Credential, error)
	SetCredential(ctx context.Context, c model.Credential) error
	ClearCredential(ctx context.Context) error
}

// StatusStore combines all work-item state operations.
type StatusStore interface {
	StatusReader
	StatusWriter
	StatusLister
}

// Backend is a durable store for both status records and the credential.
type Backend interface {
	StatusStore
	CredentialStore
	Close() error
}
