package store

import (
	"context"
	"sort"
	"sync"

	"github.com/yangwenmai/infographer/internal/model"
)

var _ Backend = (*MemoryStore)(nil)

// MemoryStore is a non-durable Backend for development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]model.StatusRecord
	credential *model.Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]model.StatusRecord{}}
}

func (m *MemoryStore) GetStatus(_ context.Context, key string) (*model.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, rec model.StatusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = rec
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status model.Status) ([]model.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StatusRecord
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}

func (m *MemoryStore) GetCredential(_ context.Context) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil {
		return nil, model.ErrNotFound
	}
	c := *m.credential
	return &c, nil
}

func (m *MemoryStore) SetCredential(_ context.Context, c model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = &c
	return nil
}

func (m *MemoryStore) ClearCredential(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }
