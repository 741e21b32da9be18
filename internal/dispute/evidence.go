package dispute

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// Rubric weights. The sum exceeds 100; the score is capped.
const (
	WeightCustomerName       = 10
	WeightCustomerEmail      = 10
	WeightProductDescription = 15
	WeightSupportInteraction = 15
	WeightTermsURL           = 10
	WeightRefundPolicyURL    = 10
	WeightCancellationURL    = 10
	WeightAccessLog          = 10
	WeightTrackingNumber     = 10

	MaxEvidenceScore = 100
)

// Stripe reason codes with a dedicated playbook.
const (
	ReasonFraudulent           = "fraudulent"
	ReasonProductNotReceived   = "product_not_received"
	ReasonProductUnacceptable  = "product_unacceptable"
	ReasonSubscriptionCanceled = "subscription_canceled"
	ReasonDuplicate            = "duplicate"
)

var playbooks = map[string]string{
	ReasonFraudulent:           "Fraud playbook: establish cardholder identity and account legitimacy with billing details, access history and prior usage.",
	ReasonProductNotReceived:   "Not-received playbook: prove delivery or digital access with carrier tracking and access logs.",
	ReasonProductUnacceptable:  "Unacceptable playbook: show the product matched its description and that support offered a remedy.",
	ReasonSubscriptionCanceled: "Subscription playbook: show the cancellation policy was disclosed and the charge preceded any cancellation request.",
	ReasonDuplicate:            "Duplicate playbook: map each charge to a distinct order to show the customer was billed once per purchase.",
}

const genericPlaybook = "General playbook: submit complete evidence covering customer identity, product, policies and support history."

// Playbook returns the narrative line for a reason code.
func Playbook(reasonCode string) string {
	if p, ok := playbooks[strings.ToLower(strings.TrimSpace(reasonCode))]; ok {
		return p
	}
	return genericPlaybook
}

// EvidenceInput is the raw material for one evidence package. Absent
// fields are empty strings.
type EvidenceInput struct {
	ReasonCode             string
	CustomerName           string
	CustomerEmail          string
	ProductDescription     string
	SupportInteraction     string
	TermsURL               string
	RefundPolicyURL        string
	CancellationPolicyURL  string
	AccessLog              string
	ShippingCarrier        string
	ShippingTrackingNumber string
	// ConfiguredDescriptor is the merchant's expected statement descriptor.
	ConfiguredDescriptor string
	// ObservedDescriptor is the descriptor on the disputed charge.
	ObservedDescriptor string
	SupportContact     string
}

// EvidencePayload mirrors the processor's evidence fields.
type EvidencePayload struct {
	CustomerName                 string `json:"customerName"`
	CustomerEmailAddress         string `json:"customerEmailAddress"`
	ProductDescription           string `json:"productDescription"`
	AccessActivityLog            string `json:"accessActivityLog"`
	RefundPolicyDisclosure       string `json:"refundPolicyDisclosure"`
	CancellationPolicyDisclosure string `json:"cancellationPolicyDisclosure"`
	ShippingCarrier              string `json:"shippingCarrier"`
	ShippingTrackingNumber       string `json:"shippingTrackingNumber"`
	UncategorizedText            string `json:"uncategorizedText"`
	Submit                       bool   `json:"submit"`
}

// Evidence is the scorer's output.
type Evidence struct {
	Payload EvidencePayload `json:"payload"`
	Score   int             `json:"score"`
	Summary []string        `json:"summary"`
}

type indicator struct {
	label   string
	present bool
	weight  int
}

func indicators(in EvidenceInput) []indicator {
	has := func(s string) bool { return strings.TrimSpace(s) != "" }
	return []indicator{
		{"customer name", has(in.CustomerName), WeightCustomerName},
		{"customer email", has(in.CustomerEmail), WeightCustomerEmail},
		{"product description", has(in.ProductDescription), WeightProductDescription},
		{"support interaction", has(in.SupportInteraction), WeightSupportInteraction},
		{"terms URL", has(in.TermsURL), WeightTermsURL},
		{"refund policy URL", has(in.RefundPolicyURL), WeightRefundPolicyURL},
		{"cancellation policy URL", has(in.CancellationPolicyURL), WeightCancellationURL},
		{"access or delivery log", has(in.AccessLog), WeightAccessLog},
		{"shipping tracking number", has(in.ShippingTrackingNumber), WeightTrackingNumber},
	}
}

// ScoreEvidence scores in and renders the payload and summary. It never
// fails: missing fields score zero and render empty.
func ScoreEvidence(in EvidenceInput) Evidence {
	score := 0
	var missing []string
	for _, ind := range indicators(in) {
		if ind.present {
			score += ind.weight
		} else {
			missing = append(missing, ind.label)
		}
	}
	if score > MaxEvidenceScore {
		score = MaxEvidenceScore
	}

	playbook := Playbook(in.ReasonCode)
	summary := []string{
		playbook,
		fmt.Sprintf("Evidence completeness %d/%d.", score, MaxEvidenceScore),
	}
	if len(missing) > 0 {
		summary = append(summary, "Missing: "+strings.Join(missing, ", ")+".")
	}
	if warning, ok := descriptorWarning(in.ConfiguredDescriptor, in.ObservedDescriptor); ok {
		summary = append(summary, warning)
	}

	return Evidence{
		Payload: EvidencePayload{
			CustomerName:                 in.CustomerName,
			CustomerEmailAddress:         in.CustomerEmail,
			ProductDescription:           in.ProductDescription,
			AccessActivityLog:            in.AccessLog,
			RefundPolicyDisclosure:       in.RefundPolicyURL,
			CancellationPolicyDisclosure: in.CancellationPolicyURL,
			ShippingCarrier:              in.ShippingCarrier,
			ShippingTrackingNumber:       in.ShippingTrackingNumber,
			UncategorizedText:            uncategorizedText(playbook, in),
		},
		Score:   score,
		Summary: summary,
	}
}

func descriptorWarning(configured, observed string) (string, bool) {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return "", false
	}
	if strings.Contains(strings.ToLower(observed), strings.ToLower(configured)) {
		return "", false
	}
	return fmt.Sprintf("Warning: charge descriptor %q does not contain configured descriptor %q; customer may not recognize the charge.", observed, configured), true
}

func uncategorizedText(playbook string, in EvidenceInput) string {
	lines := []string{playbook}
	if in.TermsURL != "" {
		lines = append(lines, "Terms of service: "+in.TermsURL)
	}
	if in.SupportInteraction != "" {
		lines = append(lines, "Support history: "+in.SupportInteraction)
	}
	if in.SupportContact != "" {
		lines = append(lines, "Merchant support: "+in.SupportContact)
	}
	return strings.Join(lines, "\n")
}

// BuildEvidenceInput assembles scorer input from a dispute, its charge and
// the merchant's policy and profile. Profile templates are substituted
// per dispute.
func BuildEvidenceInput(rec *Record, charge *ChargeContext, policy merchant.Policy, profile merchant.EvidenceProfile) EvidenceInput {
	if charge == nil {
		charge = &ChargeContext{}
	}
	sub := strings.NewReplacer(
		"{{customer_name}}", charge.BillingName,
		"{{customer_email}}", charge.BillingEmail,
		"{{dispute_id}}", rec.ID,
		"{{charge_id}}", rec.ChargeID,
		"{{amount}}", strconv.FormatInt(rec.Amount, 10),
		"{{currency}}", strings.ToUpper(rec.Currency),
	)

	var access []string
	for _, s := range []string{profile.OnboardingProof, profile.DeliveryProof} {
		if s = strings.TrimSpace(sub.Replace(s)); s != "" {
			access = append(access, s)
		}
	}

	var contact []string
	if policy.SupportEmail != "" {
		contact = append(contact, policy.SupportEmail)
	}
	if policy.SupportPhone != "" {
		contact = append(contact, policy.SupportPhone)
	}

	return EvidenceInput{
		ReasonCode:             rec.ReasonCode,
		CustomerName:           charge.BillingName,
		CustomerEmail:          charge.BillingEmail,
		ProductDescription:     sub.Replace(profile.ProductDescription),
		SupportInteraction:     sub.Replace(profile.SupportProof),
		TermsURL:               profile.TermsURL,
		RefundPolicyURL:        profile.RefundPolicyURL,
		CancellationPolicyURL:  profile.CancellationPolicyURL,
		AccessLog:              strings.Join(access, "\n"),
		ShippingCarrier:        charge.ShippingCarrier,
		ShippingTrackingNumber: charge.ShippingTrackingNumber,
		ConfiguredDescriptor:   policy.StatementDescriptor,
		ObservedDescriptor:     charge.StatementDescriptor,
		SupportContact:         strings.Join(contact, " / "),
	}
}

// ComputeEvidence scores the evidence a merchant can offer for a dispute.
func ComputeEvidence(rec *Record, charge *ChargeContext, m *merchant.Merchant) Evidence {
	return ScoreEvidence(BuildEvidenceInput(rec, charge, m.Policy, m.Profile))
}

// ManualRetryPayload is the minimal payload sent by retries; it does not
// re-score and relies on evidence already staged with the processor.
func ManualRetryPayload(rec *Record) EvidencePayload {
	text := append([]string{fmt.Sprintf("Manual retry submission for dispute %s.", rec.ID)}, rec.EvidenceSummary...)
	return EvidencePayload{
		UncategorizedText: strings.Join(text, "\n"),
		Submit:            true,
	}
}
