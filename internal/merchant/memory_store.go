package merchant

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory merchant store for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	merchants map[string]*Merchant // by ID
	accounts  map[string]string    // stripe account → ID
}

// NewMemoryStore creates a new in-memory merchant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		merchants: make(map[string]*Merchant),
		accounts:  make(map[string]string),
	}
}

func (m *MemoryStore) Upsert(_ context.Context, mer *Merchant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mer.StripeAccountID != "" {
		if owner, ok := m.accounts[mer.StripeAccountID]; ok && owner != mer.ID {
			return ErrAccountTaken
		}
	}

	now := time.Now()
	if prev, ok := m.merchants[mer.ID]; ok {
		mer.CreatedAt = prev.CreatedAt
		if prev.StripeAccountID != mer.StripeAccountID {
			delete(m.accounts, prev.StripeAccountID)
		}
	} else if mer.CreatedAt.IsZero() {
		mer.CreatedAt = now
	}
	mer.UpdatedAt = now

	m.merchants[mer.ID] = mer.Clone()
	if mer.StripeAccountID != "" {
		m.accounts[mer.StripeAccountID] = mer.ID
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mer, ok := m.merchants[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	return mer.Clone(), nil
}

func (m *MemoryStore) GetByAccount(_ context.Context, stripeAccountID string) (*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.accounts[stripeAccountID]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	return m.merchants[id].Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Merchant, 0, len(m.merchants))
	for _, mer := range m.merchants {
		out = append(out, mer.Clone())
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
