package dispute

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Compile-time checks that PostgresStore implements Store and Locker.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Locker = (*PostgresStore)(nil)
)

// disputeLockClass namespaces dispute advisory locks from any other
// pg_advisory_* user of the same database.
const disputeLockClass = 0x44535054

// DefaultLockConns bounds concurrently held dispute locks. Each holder pins
// a pooled connection while its own queries need another, so the bound must
// stay below the pool size.
const DefaultLockConns = 8

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	locks *semaphore.Weighted
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, locks: semaphore.NewWeighted(DefaultLockConns)}
}

const disputeColumns = `id, merchant_id, charge_id, reason_code, amount, currency, status,
	due_by, created_at, submitted, submitted_at, deflected, deflection_reason, deflected_at,
	refund_id, evidence_score, manual_review_required, evidence_summary, submission_attempts,
	workflow_status, owner, next_action_at, internal_notes, updated_at`

// Upsert inserts or replaces a record. The conflict clause re-states the
// record invariants so that a stale writer cannot clear them: created_at is
// write-once, submitted and deflected never revert to false.
func (p *PostgresStore) Upsert(ctx context.Context, rec *Record) error {
	summary, err := json.Marshal(nonNilStrings(rec.EvidenceSummary))
	if err != nil {
		return fmt.Errorf("marshal evidence summary: %w", err)
	}
	attempts, err := json.Marshal(nonNilAttempts(rec.SubmissionAttempts))
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			merchant_id = EXCLUDED.merchant_id,
			charge_id = EXCLUDED.charge_id,
			reason_code = EXCLUDED.reason_code,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			due_by = EXCLUDED.due_by,
			created_at = COALESCE(disputes.created_at, EXCLUDED.created_at),
			submitted = disputes.submitted OR EXCLUDED.submitted,
			submitted_at = COALESCE(disputes.submitted_at, EXCLUDED.submitted_at),
			deflected = disputes.deflected OR EXCLUDED.deflected,
			deflection_reason = CASE WHEN disputes.deflected THEN disputes.deflection_reason ELSE EXCLUDED.deflection_reason END,
			deflected_at = COALESCE(disputes.deflected_at, EXCLUDED.deflected_at),
			refund_id = CASE WHEN disputes.deflected THEN disputes.refund_id ELSE EXCLUDED.refund_id END,
			evidence_score = EXCLUDED.evidence_score,
			manual_review_required = EXCLUDED.manual_review_required,
			evidence_summary = EXCLUDED.evidence_summary,
			submission_attempts = EXCLUDED.submission_attempts,
			workflow_status = EXCLUDED.workflow_status,
			owner = EXCLUDED.owner,
			next_action_at = EXCLUDED.next_action_at,
			internal_notes = EXCLUDED.internal_notes,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.MerchantID, rec.ChargeID, rec.ReasonCode, rec.Amount, rec.Currency, string(rec.Status),
		rec.DueBy, rec.CreatedAt, rec.Submitted, rec.SubmittedAt, rec.Deflected, rec.DeflectionReason, rec.DeflectedAt,
		rec.RefundID, rec.EvidenceScore, rec.ManualReviewRequired, summary, attempts,
		rec.WorkflowStatus, rec.Owner, rec.NextActionAt, rec.InternalNotes, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert dispute: %w", err)
	}
	return nil
}

// LockDispute takes a transaction-scoped advisory lock on id. The lock lives
// as long as the transaction, so a dropped connection releases it and no
// pooled connection is ever returned still holding one.
func (p *PostgresStore) LockDispute(ctx context.Context, id string) (func(), error) {
	if err := p.locks.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for lock slot: %w", err)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		p.locks.Release(1)
		return nil, fmt.Errorf("begin lock tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, disputeLockClass, id); err != nil {
		_ = tx.Rollback()
		p.locks.Release(1)
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = tx.Rollback()
			p.locks.Release(1)
		})
	}, nil
}

// Get retrieves a dispute by processor id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return rec, nil
}

// ListByMerchant returns every dispute belonging to a merchant.
func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string) ([]*Record, error) {
	return p.query(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE merchant_id = $1 ORDER BY id`, merchantID)
}

// ListOpen returns every dispute whose processor status is not terminal.
func (p *PostgresStore) ListOpen(ctx context.Context) ([]*Record, error) {
	return p.query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE LOWER(status) NOT IN ('won', 'lost') ORDER BY id`)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	rec := &Record{}
	var (
		status                                          string
		dueBy, createdAt, submittedAt, deflectedAt, nxt sql.NullTime
		summary, attempts                               []byte
	)
	err := row.Scan(&rec.ID, &rec.MerchantID, &rec.ChargeID, &rec.ReasonCode, &rec.Amount, &rec.Currency, &status,
		&dueBy, &createdAt, &rec.Submitted, &submittedAt, &rec.Deflected, &rec.DeflectionReason, &deflectedAt,
		&rec.RefundID, &rec.EvidenceScore, &rec.ManualReviewRequired, &summary, &attempts,
		&rec.WorkflowStatus, &rec.Owner, &nxt, &rec.InternalNotes, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.DueBy = nullTimePtr(dueBy)
	rec.CreatedAt = nullTimePtr(createdAt)
	rec.SubmittedAt = nullTimePtr(submittedAt)
	rec.DeflectedAt = nullTimePtr(deflectedAt)
	rec.NextActionAt = nullTimePtr(nxt)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &rec.EvidenceSummary); err != nil {
			return nil, fmt.Errorf("decode evidence summary: %w", err)
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &rec.SubmissionAttempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return rec, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilAttempts(a []Attempt) []Attempt {
	if a == nil {
		return []Attempt{}
	}
	return a
}
