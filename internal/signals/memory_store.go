package signals

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory signal store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	signals []*Signal
	keys    map[string]*Signal
}

// NewMemoryStore creates a new in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*Signal)}
}

func dedupeIndex(merchantID string, kind Kind, key string) string {
	return merchantID + "|" + string(kind) + "|" + key
}

func (m *MemoryStore) Create(_ context.Context, s *Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := dedupeIndex(s.MerchantID, s.Kind, s.DedupeKey)
	if _, ok := m.keys[idx]; ok {
		return ErrDuplicate
	}
	cp := *s
	m.signals = append(m.signals, &cp)
	m.keys[idx] = &cp
	return nil
}

func (m *MemoryStore) GetByDedupeKey(_ context.Context, merchantID string, kind Kind, key string) (*Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.keys[dedupeIndex(merchantID, kind, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListByMerchant(_ context.Context, merchantID string, kind Kind, limit int) ([]*Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Signal
	for _, s := range m.signals {
		if s.MerchantID == merchantID && s.Kind == kind {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountSince(_ context.Context, merchantID string, since time.Time) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts, inquiries int
	for _, s := range m.signals {
		if s.MerchantID != merchantID || s.CreatedAt.Before(since) {
			continue
		}
		switch s.Kind {
		case KindAlert:
			alerts++
		case KindInquiry:
			inquiries++
		}
	}
	return alerts, inquiries, nil
}

var _ Store = (*MemoryStore)(nil)
