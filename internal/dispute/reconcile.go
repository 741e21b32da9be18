package dispute

import (
	"strings"
	"time"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// Decision is the reconciler's verdict for a created or updated event.
type Decision struct {
	ShouldAutoSubmit bool              `json:"shouldAutoSubmit"`
	Evidence         Evidence          `json:"evidence"`
	Blockers         []ReadinessReason `json:"blockers,omitempty"`
}

// Reconcile merges ev into existing (which may be nil) and decides whether
// the dispute should be auto-submitted. It is pure: the caller performs the
// submission and appends the resulting Attempt.
func Reconcile(ev Event, existing *Record, m *merchant.Merchant, now time.Time) (*Record, Decision) {
	if ev.Kind == EventClosed {
		return mergeClosed(ev, existing, m.ID, now), Decision{}
	}

	rec := mergeOpen(ev, existing, m.ID, now)
	rec.ManualReviewRequired = m.Policy.RequiresManualReview(rec.Amount)

	evidence := ComputeEvidence(rec, ev.Charge, m)
	rec.EvidenceScore = evidence.Score
	rec.EvidenceSummary = evidence.Summary

	createdAt := ev.CreatedAt
	if createdAt == nil {
		createdAt = rec.CreatedAt
	}
	blockers := eligibilityBlockers(rec, m.Policy, createdAt, now)
	decision := Decision{
		ShouldAutoSubmit: len(blockers) == 0,
		Evidence:         evidence,
		Blockers:         blockers,
	}
	decision.Evidence.Payload.Submit = decision.ShouldAutoSubmit
	return rec, decision
}

// eligibilityBlockers lists every failing auto-submit gate, in readiness order.
func eligibilityBlockers(rec *Record, policy merchant.Policy, createdAt *time.Time, now time.Time) []ReadinessReason {
	var out []ReadinessReason
	if rec.Status.Terminal() {
		out = append(out, ReasonClosed)
	}
	if rec.Submitted {
		out = append(out, ReasonAlreadySubmitted)
	}
	if rec.Deflected {
		out = append(out, ReasonDeflected)
	}
	if !policy.AutoSubmitEnabled {
		out = append(out, ReasonAutoSubmitDisabled)
	}
	if !policy.AllowsReason(rec.ReasonCode) {
		out = append(out, ReasonNotAllowed)
	}
	if rec.ManualReviewRequired {
		out = append(out, ReasonManualReview)
	}
	if InDelayWindow(createdAt, policy.SubmissionDelayMinutes, now) {
		out = append(out, ReasonDelayWindow)
	}
	if rec.EvidenceScore < policy.MinEvidenceScore {
		out = append(out, ReasonScoreBelow)
	}
	return out
}

// mergeOpen builds the record for a created or updated event. Event fields
// replace stored ones; the write-once and engine-owned fields listed here
// are carried over from existing.
func mergeOpen(ev Event, existing *Record, merchantID string, now time.Time) *Record {
	rec := &Record{
		ID:         ev.ID,
		MerchantID: merchantID,
		ChargeID:   ev.ChargeID,
		ReasonCode: strings.ToLower(ev.ReasonCode),
		Amount:     ev.Amount,
		Currency:   strings.ToLower(ev.Currency),
		Status:     ev.Status,
		DueBy:      cloneTime(ev.DueBy),
		CreatedAt:  cloneTime(ev.CreatedAt),
		UpdatedAt:  now,
	}
	if existing == nil {
		rec.WorkflowStatus = WorkflowNew
		return rec
	}

	// write-once
	if existing.CreatedAt != nil {
		rec.CreatedAt = cloneTime(existing.CreatedAt)
	}
	// sticky
	rec.Deflected = existing.Deflected
	rec.DeflectionReason = existing.DeflectionReason
	rec.DeflectedAt = cloneTime(existing.DeflectedAt)
	rec.RefundID = existing.RefundID
	// monotonic
	rec.Submitted = existing.Submitted
	rec.SubmittedAt = cloneTime(existing.SubmittedAt)
	// append-only
	rec.SubmissionAttempts = append([]Attempt(nil), existing.SubmissionAttempts...)
	// human triage
	rec.WorkflowStatus = existing.WorkflowStatus
	rec.Owner = existing.Owner
	rec.NextActionAt = cloneTime(existing.NextActionAt)
	rec.InternalNotes = existing.InternalNotes
	if rec.ChargeID == "" {
		rec.ChargeID = existing.ChargeID
	}
	return rec
}

// mergeClosed applies a terminal event. A closed event carries no evidence
// context, so scoring output and history are kept and submitted is forced.
func mergeClosed(ev Event, existing *Record, merchantID string, now time.Time) *Record {
	if existing == nil {
		submittedAt := now
		return &Record{
			ID:             ev.ID,
			MerchantID:     merchantID,
			ChargeID:       ev.ChargeID,
			ReasonCode:     strings.ToLower(ev.ReasonCode),
			Amount:         ev.Amount,
			Currency:       strings.ToLower(ev.Currency),
			Status:         ev.Status,
			DueBy:          cloneTime(ev.DueBy),
			CreatedAt:      cloneTime(ev.CreatedAt),
			Submitted:      true,
			SubmittedAt:    &submittedAt,
			WorkflowStatus: WorkflowDone,
			UpdatedAt:      now,
		}
	}

	rec := existing.Clone()
	rec.ReasonCode = strings.ToLower(ev.ReasonCode)
	rec.Amount = ev.Amount
	rec.Currency = strings.ToLower(ev.Currency)
	rec.Status = ev.Status
	rec.DueBy = cloneTime(ev.DueBy)
	if ev.ChargeID != "" {
		rec.ChargeID = ev.ChargeID
	}
	if rec.MerchantID == "" {
		rec.MerchantID = merchantID
	}
	if rec.CreatedAt == nil {
		rec.CreatedAt = cloneTime(ev.CreatedAt)
	}
	if !rec.Submitted {
		rec.Submitted = true
		submittedAt := now
		rec.SubmittedAt = &submittedAt
	}
	rec.UpdatedAt = now
	return rec
}
