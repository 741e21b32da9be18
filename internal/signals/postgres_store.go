package signals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists signals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed signal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const signalColumns = `id, kind, merchant_id, dispute_id, dedupe_key, source, created_at`

func (p *PostgresStore) Create(ctx context.Context, s *Signal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, string(s.Kind), s.MerchantID, s.DisputeID, s.DedupeKey, s.Source, s.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByDedupeKey(ctx context.Context, merchantID string, kind Kind, key string) (*Signal, error) {
	s := &Signal{}
	var k string
	err := p.db.QueryRowContext(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE merchant_id = $1 AND kind = $2 AND dedupe_key = $3`,
		merchantID, string(kind), key,
	).Scan(&s.ID, &k, &s.MerchantID, &s.DisputeID, &s.DedupeKey, &s.Source, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	s.Kind = Kind(k)
	return s, nil
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, kind Kind, limit int) ([]*Signal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE merchant_id = $1 AND kind = $2
		ORDER BY created_at DESC LIMIT $3`,
		merchantID, string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Signal
	for rows.Next() {
		s := &Signal{}
		var k string
		if err := rows.Scan(&s.ID, &k, &s.MerchantID, &s.DisputeID, &s.DedupeKey, &s.Source, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		s.Kind = Kind(k)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountSince(ctx context.Context, merchantID string, since time.Time) (int, int, error) {
	var alerts, inquiries int
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'alert'),
			COUNT(*) FILTER (WHERE kind = 'inquiry')
		FROM signals
		WHERE merchant_id = $1 AND created_at >= $2`,
		merchantID, since,
	).Scan(&alerts, &inquiries)
	if err != nil {
		return 0, 0, fmt.Errorf("count signals: %w", err)
	}
	return alerts, inquiries, nil
}

var _ Store = (*PostgresStore)(nil)
