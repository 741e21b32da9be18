package dispute

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/merchant"
)

func fullInput() EvidenceInput {
	return EvidenceInput{
		ReasonCode:             ReasonFraudulent,
		CustomerName:           "Ada Lovelace",
		CustomerEmail:          "ada@example.com",
		ProductDescription:     "Annual analytics plan",
		SupportInteraction:     "Customer thanked support on 2024-03-02",
		TermsURL:               "https://shop.example/terms",
		RefundPolicyURL:        "https://shop.example/refunds",
		CancellationPolicyURL:  "https://shop.example/cancel",
		AccessLog:              "Logged in 14 times after purchase",
		ShippingCarrier:        "UPS",
		ShippingTrackingNumber: "1Z999",
	}
}

func TestScoreEvidence_EachIndicatorWeight(t *testing.T) {
	cases := []struct {
		name   string
		set    func(*EvidenceInput)
		weight int
	}{
		{"customer name", func(in *EvidenceInput) { in.CustomerName = "x" }, WeightCustomerName},
		{"customer email", func(in *EvidenceInput) { in.CustomerEmail = "x" }, WeightCustomerEmail},
		{"product description", func(in *EvidenceInput) { in.ProductDescription = "x" }, WeightProductDescription},
		{"support interaction", func(in *EvidenceInput) { in.SupportInteraction = "x" }, WeightSupportInteraction},
		{"terms", func(in *EvidenceInput) { in.TermsURL = "x" }, WeightTermsURL},
		{"refund policy", func(in *EvidenceInput) { in.RefundPolicyURL = "x" }, WeightRefundPolicyURL},
		{"cancellation policy", func(in *EvidenceInput) { in.CancellationPolicyURL = "x" }, WeightCancellationURL},
		{"access log", func(in *EvidenceInput) { in.AccessLog = "x" }, WeightAccessLog},
		{"tracking number", func(in *EvidenceInput) { in.ShippingTrackingNumber = "x" }, WeightTrackingNumber},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var in EvidenceInput
			tc.set(&in)
			assert.Equal(t, tc.weight, ScoreEvidence(in).Score)
		})
	}
}

func TestScoreEvidence_CappedAt100(t *testing.T) {
	ev := ScoreEvidence(fullInput())
	// 10+10+15+15+10+10+10+10+10 = 100 exactly; any redundant field cannot push past it.
	assert.Equal(t, MaxEvidenceScore, ev.Score)
	assert.NotContains(t, strings.Join(ev.Summary, " "), "Missing:")
}

func TestScoreEvidence_EmptyInputScoresZero(t *testing.T) {
	ev := ScoreEvidence(EvidenceInput{})
	assert.Equal(t, 0, ev.Score)
	assert.Equal(t, "", ev.Payload.CustomerName)
	assert.Equal(t, "", ev.Payload.ShippingTrackingNumber)
	require.Len(t, ev.Summary, 3)
	assert.Equal(t, genericPlaybook, ev.Summary[0])
	assert.Equal(t, "Evidence completeness 0/100.", ev.Summary[1])
	assert.True(t, strings.HasPrefix(ev.Summary[2], "Missing: customer name"))
}

func TestScoreEvidence_WhitespaceIsAbsent(t *testing.T) {
	ev := ScoreEvidence(EvidenceInput{CustomerName: "   ", TermsURL: "\t"})
	assert.Equal(t, 0, ev.Score)
}

func TestPlaybook_FirstSummaryLine(t *testing.T) {
	for reason, line := range playbooks {
		in := fullInput()
		in.ReasonCode = strings.ToUpper(reason)
		ev := ScoreEvidence(in)
		require.NotEmpty(t, ev.Summary)
		assert.Equal(t, line, ev.Summary[0], reason)
		assert.True(t, strings.HasPrefix(ev.Payload.UncategorizedText, line))
	}
	assert.Equal(t, genericPlaybook, Playbook("credit_not_processed"))
	assert.Equal(t, genericPlaybook, Playbook(""))
}

func TestScoreEvidence_DescriptorMismatch(t *testing.T) {
	in := fullInput()
	in.ConfiguredDescriptor = "ACME"
	in.ObservedDescriptor = "SQ *OTHERSHOP"

	ev := ScoreEvidence(in)
	assert.Equal(t, 100, ev.Score, "mismatch never affects the score")
	last := ev.Summary[len(ev.Summary)-1]
	assert.Contains(t, last, "does not contain configured descriptor")

	in.ObservedDescriptor = "acme*annual plan"
	ev = ScoreEvidence(in)
	for _, line := range ev.Summary {
		assert.NotContains(t, line, "Warning")
	}
}

func TestScoreEvidence_NoDescriptorConfigured(t *testing.T) {
	in := fullInput()
	in.ObservedDescriptor = "ANYTHING"
	ev := ScoreEvidence(in)
	assert.Len(t, ev.Summary, 2)
}

func TestBuildEvidenceInput_SubstitutesTemplates(t *testing.T) {
	rec := &Record{ID: "dp_1", ChargeID: "ch_1", Amount: 1999, Currency: "usd", ReasonCode: ReasonProductNotReceived}
	charge := &ChargeContext{BillingName: "Grace", BillingEmail: "grace@example.com", ShippingTrackingNumber: "TRK"}
	policy := merchant.Policy{StatementDescriptor: "ACME", SupportEmail: "help@acme.test", SupportPhone: "+1 555"}
	profile := merchant.EvidenceProfile{
		ProductDescription: "Order for {{customer_name}} ({{amount}} {{currency}})",
		DeliveryProof:      "Delivered for dispute {{dispute_id}} charge {{charge_id}}",
		SupportProof:       "Emailed {{customer_email}}",
	}

	in := BuildEvidenceInput(rec, charge, policy, profile)
	assert.Equal(t, "Order for Grace (1999 USD)", in.ProductDescription)
	assert.Equal(t, "Delivered for dispute dp_1 charge ch_1", in.AccessLog)
	assert.Equal(t, "Emailed grace@example.com", in.SupportInteraction)
	assert.Equal(t, "help@acme.test / +1 555", in.SupportContact)
	assert.Equal(t, "ACME", in.ConfiguredDescriptor)

	ev := ScoreEvidence(in)
	assert.Contains(t, ev.Payload.UncategorizedText, "Merchant support: help@acme.test / +1 555")
	// An empty observed descriptor is a mismatch.
	assert.Contains(t, ev.Summary[len(ev.Summary)-1], "Warning")
}

func TestBuildEvidenceInput_NilCharge(t *testing.T) {
	rec := &Record{ID: "dp_1", ReasonCode: ReasonDuplicate}
	in := BuildEvidenceInput(rec, nil, merchant.Policy{}, merchant.EvidenceProfile{ProductDescription: "{{customer_name}}"})
	assert.Equal(t, "", in.CustomerName)
	assert.Equal(t, "", in.ProductDescription)
}

func TestManualRetryPayload(t *testing.T) {
	rec := &Record{ID: "dp_9", EvidenceSummary: []string{"line a", "line b"}}
	p := ManualRetryPayload(rec)
	assert.True(t, p.Submit)
	assert.Equal(t, "Manual retry submission for dispute dp_9.\nline a\nline b", p.UncategorizedText)
	assert.Empty(t, p.CustomerName)
}
