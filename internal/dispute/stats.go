package dispute

import (
	"time"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// MerchantMetrics is the aggregate dispute picture for one merchant.
type MerchantMetrics struct {
	MerchantID            string  `json:"merchantId"`
	Open                  int     `json:"open"`
	Submitted             int     `json:"submitted"`
	Won                   int     `json:"won"`
	Lost                  int     `json:"lost"`
	Deflected             int     `json:"deflected"`
	WinRatePct            float64 `json:"winRatePct"`
	AverageEvidenceScore  float64 `json:"averageEvidenceScore"`
	DisputesThisMonth     int     `json:"disputesThisMonth"`
	MonthlyDisputeRatePct float64 `json:"monthlyDisputeRatePct"`
	OverAlertThreshold    bool    `json:"overAlertThreshold"`
	Alerts30d             int     `json:"alerts30d"`
	Inquiries30d          int     `json:"inquiries30d"`
}

// ComputeMerchantMetrics summarizes records. Month boundaries are UTC.
func ComputeMerchantMetrics(merchantID string, records []*Record, policy merchant.Policy, alerts, inquiries int, now time.Time) *MerchantMetrics {
	m := &MerchantMetrics{MerchantID: merchantID, Alerts30d: alerts, Inquiries30d: inquiries}
	utc := now.UTC()
	monthStart := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)

	scoreSum := 0
	for _, r := range records {
		switch r.Status.Class() {
		case ClassWon:
			m.Won++
		case ClassLost:
			m.Lost++
		default:
			m.Open++
		}
		if r.Submitted {
			m.Submitted++
		}
		if r.Deflected {
			m.Deflected++
		}
		if r.CreatedAt != nil && !r.CreatedAt.Before(monthStart) {
			m.DisputesThisMonth++
		}
		scoreSum += r.EvidenceScore
	}

	if decided := m.Won + m.Lost; decided > 0 {
		m.WinRatePct = float64(m.Won) / float64(decided) * 100
	}
	if len(records) > 0 {
		m.AverageEvidenceScore = float64(scoreSum) / float64(len(records))
	}
	if policy.MonthlyTransactionCount > 0 {
		m.MonthlyDisputeRatePct = float64(m.DisputesThisMonth) / float64(policy.MonthlyTransactionCount) * 100
		m.OverAlertThreshold = policy.MonthlyDisputeAlertThresholdPct > 0 &&
			m.MonthlyDisputeRatePct >= policy.MonthlyDisputeAlertThresholdPct
	}
	return m
}
