// Package merchant owns per-merchant dispute automation settings: the
// auto-submit policy and the static evidence profile used to build evidence
// text.
package merchant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrMerchantNotFound = errors.New("merchant: not found")
	ErrAccountTaken     = errors.New("merchant: processor account already linked")
	ErrInvalidPolicy    = errors.New("merchant: invalid policy")
)

// Policy controls when disputes are submitted without human review.
type Policy struct {
	AutoSubmitEnabled bool `json:"autoSubmitEnabled"`
	// AutoSubmitReasons is the reason-code allow-list. Empty allows every reason.
	AutoSubmitReasons               []string `json:"autoSubmitReasons"`
	MinEvidenceScore                int      `json:"minEvidenceScore"`
	ManualReviewAmountThreshold     int64    `json:"manualReviewAmountThreshold"` // minor units, 0 disables
	SubmissionDelayMinutes          int      `json:"submissionDelayMinutes"`
	MonthlyDisputeAlertThresholdPct float64  `json:"monthlyDisputeAlertThresholdPct"`
	MonthlyTransactionCount         int      `json:"monthlyTransactionCount"`
	StatementDescriptor             string   `json:"statementDescriptor,omitempty"`
	SupportEmail                    string   `json:"supportEmail,omitempty"`
	SupportPhone                    string   `json:"supportPhone,omitempty"`
}

// DefaultPolicy is applied to newly onboarded merchants.
func DefaultPolicy() Policy {
	return Policy{
		AutoSubmitEnabled:               false,
		MinEvidenceScore:                60,
		ManualReviewAmountThreshold:     50000,
		SubmissionDelayMinutes:          30,
		MonthlyDisputeAlertThresholdPct: 0.75,
	}
}

// Validate checks the non-negativity invariants and normalizes the allow-list.
func (p *Policy) Validate() error {
	if p.MinEvidenceScore < 0 || p.MinEvidenceScore > 100 {
		return fmt.Errorf("%w: minEvidenceScore must be within [0,100]", ErrInvalidPolicy)
	}
	if p.ManualReviewAmountThreshold < 0 {
		return fmt.Errorf("%w: manualReviewAmountThreshold must be non-negative", ErrInvalidPolicy)
	}
	if p.SubmissionDelayMinutes < 0 {
		return fmt.Errorf("%w: submissionDelayMinutes must be non-negative", ErrInvalidPolicy)
	}
	if p.MonthlyDisputeAlertThresholdPct < 0 {
		return fmt.Errorf("%w: monthlyDisputeAlertThresholdPct must be non-negative", ErrInvalidPolicy)
	}
	if p.MonthlyTransactionCount < 0 {
		return fmt.Errorf("%w: monthlyTransactionCount must be non-negative", ErrInvalidPolicy)
	}
	p.AutoSubmitReasons = NormalizeReasons(p.AutoSubmitReasons)
	return nil
}

// AllowsReason reports whether the allow-list admits reason. An empty list
// admits everything.
func (p Policy) AllowsReason(reason string) bool {
	if len(p.AutoSubmitReasons) == 0 {
		return true
	}
	reason = strings.ToLower(strings.TrimSpace(reason))
	for _, r := range p.AutoSubmitReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// RequiresManualReview reports whether amount meets the manual review threshold.
func (p Policy) RequiresManualReview(amount int64) bool {
	return p.ManualReviewAmountThreshold > 0 && amount >= p.ManualReviewAmountThreshold
}

// NormalizeReasons lowercases, trims, de-duplicates and sorts reason codes.
func NormalizeReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// EvidenceProfile holds the template text a merchant submits as evidence.
// Templates may reference {{customer_name}}, {{customer_email}},
// {{dispute_id}}, {{charge_id}}, {{amount}} and {{currency}}.
type EvidenceProfile struct {
	ProductDescription    string `json:"productDescription"`
	TermsURL              string `json:"termsUrl"`
	RefundPolicyURL       string `json:"refundPolicyUrl"`
	CancellationPolicyURL string `json:"cancellationPolicyUrl"`
	OnboardingProof       string `json:"onboardingProof"`
	DeliveryProof         string `json:"deliveryProof"`
	SupportProof          string `json:"supportProof"`
}

// Merchant is a connected account using dispute automation.
type Merchant struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	StripeAccountID string          `json:"stripeAccountId"`
	Policy          Policy          `json:"policy"`
	Profile         EvidenceProfile `json:"profile"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand across store boundaries.
func (m *Merchant) Clone() *Merchant {
	cp := *m
	cp.Policy.AutoSubmitReasons = append([]string(nil), m.Policy.AutoSubmitReasons...)
	return &cp
}
