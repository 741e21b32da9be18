package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process Log for development and single-instance
// deployments.
type MemoryLog struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time // id -> expiry
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryLog creates a MemoryLog. A non-positive ttl uses DefaultTTL.
func NewMemoryLog(ttl time.Duration) *MemoryLog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLog{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLog) MarkSeen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyEventID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)
	if exp, ok := m.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[id] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryLog) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

// Len returns the number of remembered ids.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// pruneLocked drops expired ids at most once a minute.
func (m *MemoryLog) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < time.Minute {
		return
	}
	m.lastPrune = now
	for id, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, id)
		}
	}
}

var _ Log = (*MemoryLog)(nil)
