package dispute

import (
	"math"
	"time"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// ReadinessReason explains a readiness decision.
type ReadinessReason string

const (
	ReasonClosed             ReadinessReason = "closed"
	ReasonAlreadySubmitted   ReadinessReason = "already_submitted"
	ReasonDeflected          ReadinessReason = "deflected"
	ReasonAutoSubmitDisabled ReadinessReason = "auto_submit_disabled"
	ReasonNotAllowed         ReadinessReason = "reason_not_allowed"
	ReasonManualReview       ReadinessReason = "manual_review_required"
	ReasonDelayWindow        ReadinessReason = "submission_delay_window_active"
	ReasonScoreBelow         ReadinessReason = "score_below_threshold"
	ReasonReady              ReadinessReason = "ready"
)

// Blocked priorities express how urgent unblocking each gate is.
var blockedPriority = map[ReadinessReason]int{
	ReasonClosed:             0,
	ReasonAlreadySubmitted:   0,
	ReasonDeflected:          0,
	ReasonAutoSubmitDisabled: 20,
	ReasonNotAllowed:         25,
	ReasonManualReview:       95,
	ReasonDelayWindow:        60,
	ReasonScoreBelow:         85,
}

// Readiness is the auto-submit decision for one dispute.
type Readiness struct {
	Ready    bool            `json:"ready"`
	Reason   ReadinessReason `json:"reasonCode"`
	Priority int             `json:"priority"`
}

func blocked(reason ReadinessReason) Readiness {
	return Readiness{Reason: reason, Priority: blockedPriority[reason]}
}

// Evaluate applies the gates in fixed order; the first failing gate wins.
func Evaluate(rec *Record, policy merchant.Policy, now time.Time) Readiness {
	switch {
	case rec.Status.Terminal():
		return blocked(ReasonClosed)
	case rec.Submitted:
		return blocked(ReasonAlreadySubmitted)
	case rec.Deflected:
		return blocked(ReasonDeflected)
	case !policy.AutoSubmitEnabled:
		return blocked(ReasonAutoSubmitDisabled)
	case !policy.AllowsReason(rec.ReasonCode):
		return blocked(ReasonNotAllowed)
	case rec.ManualReviewRequired:
		return blocked(ReasonManualReview)
	case InDelayWindow(rec.CreatedAt, policy.SubmissionDelayMinutes, now):
		return blocked(ReasonDelayWindow)
	case rec.EvidenceScore < policy.MinEvidenceScore:
		return blocked(ReasonScoreBelow)
	}
	return Readiness{
		Ready:    true,
		Reason:   ReasonReady,
		Priority: Priority(rec.DueBy, rec.Amount, now),
	}
}

// InDelayWindow reports whether createdAt is younger than the delay. A
// missing creation time or a zero delay never blocks.
func InDelayWindow(createdAt *time.Time, delayMinutes int, now time.Time) bool {
	if createdAt == nil || delayMinutes <= 0 {
		return false
	}
	return now.Sub(*createdAt) < time.Duration(delayMinutes)*time.Minute
}

// DueUrgency is a step function of the time left before the evidence deadline.
func DueUrgency(dueBy *time.Time, now time.Time) int {
	if dueBy == nil {
		return 50
	}
	left := dueBy.Sub(now)
	switch {
	case left <= 0:
		return 100
	case left <= 4*time.Hour:
		return 98
	case left <= 24*time.Hour:
		return 90
	case left <= 48*time.Hour:
		return 80
	default:
		return 65
	}
}

// AmountUrgency adds up to 25 points for larger disputes.
func AmountUrgency(amount int64) int {
	if amount <= 0 {
		return 0
	}
	return int(math.Min(25, math.Round(float64(amount)/5000)))
}

// Priority combines deadline and amount urgency for ready disputes.
func Priority(dueBy *time.Time, amount int64, now time.Time) int {
	p := DueUrgency(dueBy, now) + AmountUrgency(amount)
	if p > 100 {
		return 100
	}
	return p
}
