package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service records signals idempotently on their dedupe key.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new signals service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Record stores a new signal. A repeated dedupe key returns the existing
// signal with created=false.
func (s *Service) Record(ctx context.Context, merchantID string, kind Kind, req RecordRequest) (sig *Signal, created bool, err error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, kind)
	}
	key := normalizeKey(req.DedupeKey)
	if key == "" {
		return nil, false, fmt.Errorf("%w: dedupeKey is required", ErrInvalidSignal)
	}

	createdAt := s.now()
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		createdAt = *req.CreatedAt
	}
	sig = &Signal{
		ID:         prefix(kind) + uuid.NewString(),
		Kind:       kind,
		MerchantID: merchantID,
		DisputeID:  req.DisputeID,
		DedupeKey:  key,
		Source:     req.Source,
		CreatedAt:  createdAt,
	}

	err = s.store.Create(ctx, sig)
	if errors.Is(err, ErrDuplicate) {
		existing, getErr := s.store.GetByDedupeKey(ctx, merchantID, kind, key)
		if getErr != nil {
			return nil, false, fmt.Errorf("load duplicate signal: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("signal recorded", "merchant_id", merchantID, "kind", kind, "dedupe_key", key)
	return sig, true, nil
}

// List returns a merchant's most recent signals of one kind.
func (s *Service) List(ctx context.Context, merchantID string, kind Kind, limit int) ([]*Signal, error) {
	return s.store.ListByMerchant(ctx, merchantID, kind, limit)
}

// CountSince counts a merchant's alerts and inquiries created at or after since.
func (s *Service) CountSince(ctx context.Context, merchantID string, since time.Time) (int, int, error) {
	return s.store.CountSince(ctx, merchantID, since)
}

func prefix(kind Kind) string {
	if kind == KindAlert {
		return "alt_"
	}
	return "inq_"
}
