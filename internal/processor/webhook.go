package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/chargeguard/internal/dispute"
)

var (
	ErrBadSignature = errors.New("processor: webhook signature verification failed")
	ErrBadPayload   = errors.New("processor: malformed webhook payload")
)

// eventKinds maps the dispute webhook types we act on. Fund movements only
// change balances, so they reconcile as plain updates.
var eventKinds = map[string]dispute.EventKind{
	"charge.dispute.created":          dispute.EventCreated,
	"charge.dispute.updated":          dispute.EventUpdated,
	"charge.dispute.funds_withdrawn":  dispute.EventUpdated,
	"charge.dispute.funds_reinstated": dispute.EventUpdated,
	"charge.dispute.closed":           dispute.EventClosed,
}

// Delivery is one verified webhook. Event is nil for types we do not handle.
type Delivery struct {
	EventID string
	Type    string
	Event   *dispute.Event
}

// Parser verifies and decodes Stripe webhook deliveries.
type Parser struct {
	secret    string
	tolerance time.Duration
}

// NewParser creates a parser for the endpoint's signing secret.
func NewParser(secret string) *Parser {
	return &Parser{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies the Stripe-Signature header and decodes dispute events.
func (p *Parser) Parse(payload []byte, signature string) (*Delivery, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	d := &Delivery{EventID: evt.ID, Type: string(evt.Type)}
	kind, ok := eventKinds[d.Type]
	if !ok {
		return d, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no data object", ErrBadPayload, d.Type)
	}

	var sd stripe.Dispute
	if err := json.Unmarshal(evt.Data.Raw, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	d.Event = toEvent(kind, evt.Account, &sd)
	return d, nil
}

func toEvent(kind dispute.EventKind, account string, sd *stripe.Dispute) *dispute.Event {
	ev := &dispute.Event{
		Kind:       kind,
		ID:         sd.ID,
		Account:    account,
		ReasonCode: string(sd.Reason),
		Amount:     sd.Amount,
		Currency:   strings.ToLower(string(sd.Currency)),
		Status:     dispute.Status(sd.Status),
	}
	if sd.Charge != nil {
		ev.ChargeID = sd.Charge.ID
	}
	if sd.Created > 0 {
		t := time.Unix(sd.Created, 0).UTC()
		ev.CreatedAt = &t
	}
	if sd.EvidenceDetails != nil && sd.EvidenceDetails.DueBy > 0 {
		t := time.Unix(sd.EvidenceDetails.DueBy, 0).UTC()
		ev.DueBy = &t
	}
	return ev
}
