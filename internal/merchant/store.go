package merchant

import "context"

// Store persists merchants. Upsert is atomic per merchant id.
type Store interface {
	Upsert(ctx context.Context, m *Merchant) error
	Get(ctx context.Context, id string) (*Merchant, error)
	GetByAccount(ctx context.Context, stripeAccountID string) (*Merchant, error)
	List(ctx context.Context) ([]*Merchant, error)
}
