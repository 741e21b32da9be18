// Package signals records early dispute warnings: card-network alerts and
// marketplace inquiries. They only feed merchant metrics.
package signals

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("signals: not found")
	ErrDuplicate     = errors.New("signals: duplicate dedupe key")
	ErrInvalidSignal = errors.New("signals: invalid signal")
)

// Kind distinguishes the two signal channels.
type Kind string

const (
	KindAlert   Kind = "alert"
	KindInquiry Kind = "inquiry"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAlert || k == KindInquiry
}

// Signal is one alert or inquiry. DedupeKey is unique per merchant and kind.
type Signal struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	MerchantID string    `json:"merchantId"`
	DisputeID  string    `json:"disputeId,omitempty"`
	DedupeKey  string    `json:"dedupeKey"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RecordRequest is the inbound payload for a new signal.
type RecordRequest struct {
	DedupeKey string     `json:"dedupeKey" binding:"required"`
	DisputeID string     `json:"disputeId"`
	Source    string     `json:"source"`
	CreatedAt *time.Time `json:"createdAt"`
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
