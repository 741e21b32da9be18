package merchant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists merchants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed merchant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const merchantColumns = `id, name, stripe_account_id, auto_submit_enabled, auto_submit_reasons,
	min_evidence_score, manual_review_amount_threshold, submission_delay_minutes,
	monthly_dispute_alert_threshold_pct, monthly_transaction_count,
	statement_descriptor, support_email, support_phone, evidence_profile,
	created_at, updated_at`

func (p *PostgresStore) Upsert(ctx context.Context, m *Merchant) error {
	profileJSON, err := json.Marshal(m.Profile)
	if err != nil {
		return fmt.Errorf("marshal evidence profile: %w", err)
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			stripe_account_id = EXCLUDED.stripe_account_id,
			auto_submit_enabled = EXCLUDED.auto_submit_enabled,
			auto_submit_reasons = EXCLUDED.auto_submit_reasons,
			min_evidence_score = EXCLUDED.min_evidence_score,
			manual_review_amount_threshold = EXCLUDED.manual_review_amount_threshold,
			submission_delay_minutes = EXCLUDED.submission_delay_minutes,
			monthly_dispute_alert_threshold_pct = EXCLUDED.monthly_dispute_alert_threshold_pct,
			monthly_transaction_count = EXCLUDED.monthly_transaction_count,
			statement_descriptor = EXCLUDED.statement_descriptor,
			support_email = EXCLUDED.support_email,
			support_phone = EXCLUDED.support_phone,
			evidence_profile = EXCLUDED.evidence_profile,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, m.StripeAccountID, m.Policy.AutoSubmitEnabled, pq.Array(m.Policy.AutoSubmitReasons),
		m.Policy.MinEvidenceScore, m.Policy.ManualReviewAmountThreshold, m.Policy.SubmissionDelayMinutes,
		m.Policy.MonthlyDisputeAlertThresholdPct, m.Policy.MonthlyTransactionCount,
		m.Policy.StatementDescriptor, m.Policy.SupportEmail, m.Policy.SupportPhone, profileJSON,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAccountTaken
		}
		return fmt.Errorf("upsert merchant: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Merchant, error) {
	return scanMerchant(p.db.QueryRowContext(ctx, `
		SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
}

func (p *PostgresStore) GetByAccount(ctx context.Context, stripeAccountID string) (*Merchant, error) {
	return scanMerchant(p.db.QueryRowContext(ctx, `
		SELECT `+merchantColumns+` FROM merchants WHERE stripe_account_id = $1`, stripeAccountID))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Merchant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+merchantColumns+` FROM merchants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMerchant(row scanner) (*Merchant, error) {
	m := &Merchant{}
	var (
		account     sql.NullString
		reasons     []string
		profileJSON []byte
	)
	err := row.Scan(&m.ID, &m.Name, &account, &m.Policy.AutoSubmitEnabled, pq.Array(&reasons),
		&m.Policy.MinEvidenceScore, &m.Policy.ManualReviewAmountThreshold, &m.Policy.SubmissionDelayMinutes,
		&m.Policy.MonthlyDisputeAlertThresholdPct, &m.Policy.MonthlyTransactionCount,
		&m.Policy.StatementDescriptor, &m.Policy.SupportEmail, &m.Policy.SupportPhone, &profileJSON,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan merchant: %w", err)
	}
	if account.Valid {
		m.StripeAccountID = account.String
	}
	m.Policy.AutoSubmitReasons = reasons
	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, &m.Profile); err != nil {
			return nil, fmt.Errorf("decode evidence profile: %w", err)
		}
	}
	return m, nil
}

var _ Store = (*PostgresStore)(nil)
