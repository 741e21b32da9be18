package dispute

import "context"

// Store persists dispute records keyed by processor dispute id. Upsert is
// atomic per id; callers serialize read-modify-write cycles per id, through
// Locker when the store is shared between processes.
// List ordering is stable but unspecified.
type Store interface {
	Upsert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]*Record, error)
	ListOpen(ctx context.Context) ([]*Record, error)
}

// Locker is implemented by stores shared between processes. LockDispute
// blocks until no other holder has id and returns the release function,
// which is safe to call once.
type Locker interface {
	LockDispute(ctx context.Context, id string) (unlock func(), err error)
}
