package dispute

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory dispute store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Upsert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) ListByMerchant(_ context.Context, merchantID string) ([]*Record, error) {
	return m.list(func(r *Record) bool { return r.MerchantID == merchantID }), nil
}

func (m *MemoryStore) ListOpen(_ context.Context) ([]*Record, error) {
	return m.list(func(r *Record) bool { return r.Open() }), nil
}

func (m *MemoryStore) list(keep func(*Record) bool) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ Store = (*MemoryStore)(nil)
