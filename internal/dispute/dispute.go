// Package dispute implements the dispute automation decision engine:
// evidence scoring, readiness and priority, lifecycle reconciliation of
// processor events, and the reason-code auto-submit optimizer.
package dispute

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisputeNotFound = errors.New("dispute: not found")
	ErrDisputeClosed   = errors.New("dispute: closed")
	ErrNoCharge        = errors.New("dispute: no originating charge")
	ErrInvalidWorkflow = errors.New("dispute: invalid workflow status")
	ErrInvalidEvent    = errors.New("dispute: invalid event")
)

// MaxAttempts bounds the per-dispute attempt history; the oldest entries are dropped.
const MaxAttempts = 20

// Status is the processor's raw dispute status. Only won and lost are
// interpreted; everything else counts as open.
type Status string

const (
	StatusWon  Status = "won"
	StatusLost Status = "lost"
)

// StatusClass is the only view of Status the decision logic uses.
type StatusClass int

const (
	ClassOpen StatusClass = iota
	ClassWon
	ClassLost
)

// Class classifies the raw status.
func (s Status) Class() StatusClass {
	switch Status(strings.ToLower(string(s))) {
	case StatusWon:
		return ClassWon
	case StatusLost:
		return ClassLost
	default:
		return ClassOpen
	}
}

// Terminal reports whether the processor has decided the dispute.
func (s Status) Terminal() bool {
	return s.Class() != ClassOpen
}

// EventKind is the lifecycle transition carried by a processor event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventClosed  EventKind = "closed"
)

// Attempt triggers.
const (
	TriggerWebhook     = "webhook"
	TriggerManualRetry = "manual_retry"
	TriggerSweep       = "sweep"
	TriggerDeflection  = "deflection"
)

// Attempt is one immutable entry in a dispute's submission history.
type Attempt struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Trigger string    `json:"trigger"`
}

// ChargeContext is what the processor knows about the disputed charge.
type ChargeContext struct {
	BillingEmail           string `json:"billingEmail,omitempty"`
	BillingName            string `json:"billingName,omitempty"`
	StatementDescriptor    string `json:"statementDescriptor,omitempty"`
	ShippingCarrier        string `json:"shippingCarrier,omitempty"`
	ShippingTrackingNumber string `json:"shippingTrackingNumber,omitempty"`
}

// Event is an inbound dispute lifecycle notification.
type Event struct {
	Kind EventKind `json:"kind"`
	// ID is the processor dispute id, the record's natural key.
	ID         string     `json:"id"`
	Account    string     `json:"account,omitempty"`
	MerchantID string     `json:"merchantId,omitempty"`
	ReasonCode string     `json:"reasonCode"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	Status     Status     `json:"status"`
	DueBy      *time.Time `json:"dueBy,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	ChargeID   string     `json:"chargeId,omitempty"`
	// Charge is filled in by the service before reconciliation.
	Charge *ChargeContext `json:"charge,omitempty"`
}

// Record is the durable state of one processor dispute.
type Record struct {
	ID                   string     `json:"id"`
	MerchantID           string     `json:"merchantId"`
	ChargeID             string     `json:"chargeId,omitempty"`
	ReasonCode           string     `json:"reasonCode"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Status               Status     `json:"status"`
	DueBy                *time.Time `json:"dueBy,omitempty"`
	CreatedAt            *time.Time `json:"createdAt,omitempty"`
	Submitted            bool       `json:"submitted"`
	SubmittedAt          *time.Time `json:"submittedAt,omitempty"`
	Deflected            bool       `json:"deflected"`
	DeflectionReason     string     `json:"deflectionReason,omitempty"`
	DeflectedAt          *time.Time `json:"deflectedAt,omitempty"`
	RefundID             string     `json:"refundId,omitempty"`
	EvidenceScore        int        `json:"evidenceScore"`
	ManualReviewRequired bool       `json:"manualReviewRequired"`
	EvidenceSummary      []string   `json:"evidenceSummary"`
	SubmissionAttempts   []Attempt  `json:"submissionAttempts"`
	WorkflowStatus       string     `json:"workflowStatus"`
	Owner                string     `json:"owner,omitempty"`
	NextActionAt         *time.Time `json:"nextActionAt,omitempty"`
	InternalNotes        string     `json:"internalNotes,omitempty"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Open reports whether the processor still accepts action on the dispute.
func (r *Record) Open() bool {
	return !r.Status.Terminal()
}

// AppendAttempt adds a to the history, trimming from the oldest end.
func (r *Record) AppendAttempt(a Attempt) {
	r.SubmissionAttempts = append(r.SubmissionAttempts, a)
	if n := len(r.SubmissionAttempts); n > MaxAttempts {
		r.SubmissionAttempts = append([]Attempt(nil), r.SubmissionAttempts[n-MaxAttempts:]...)
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := *r
	cp.DueBy = cloneTime(r.DueBy)
	cp.CreatedAt = cloneTime(r.CreatedAt)
	cp.SubmittedAt = cloneTime(r.SubmittedAt)
	cp.DeflectedAt = cloneTime(r.DeflectedAt)
	cp.NextActionAt = cloneTime(r.NextActionAt)
	cp.EvidenceSummary = append([]string(nil), r.EvidenceSummary...)
	cp.SubmissionAttempts = append([]Attempt(nil), r.SubmissionAttempts...)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Processor is the payment processor collaborator.
type Processor interface {
	GetCharge(ctx context.Context, account, chargeID string) (*ChargeContext, error)
	SubmitEvidence(ctx context.Context, account, disputeID string, payload EvidencePayload) error
	Refund(ctx context.Context, account, chargeID string, metadata map[string]string) (refundID string, err error)
}

// SignalCounter reports early-warning signal volume for a merchant.
type SignalCounter interface {
	CountSince(ctx context.Context, merchantID string, since time.Time) (alerts, inquiries int, err error)
}

// Notifier is told about every persisted dispute change.
type Notifier interface {
	DisputeUpdated(merchantID string, rec *Record)
}
