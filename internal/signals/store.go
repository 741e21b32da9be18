package signals

import (
	"context"
	"time"
)

// Store persists signals.
type Store interface {
	// Create inserts s, returning ErrDuplicate when the merchant already has
	// a signal of the same kind and dedupe key.
	Create(ctx context.Context, s *Signal) error
	GetByDedupeKey(ctx context.Context, merchantID string, kind Kind, key string) (*Signal, error)
	ListByMerchant(ctx context.Context, merchantID string, kind Kind, limit int) ([]*Signal, error)
	CountSince(ctx context.Context, merchantID string, since time.Time) (alerts, inquiries int, err error)
}
