// Package processor is the Stripe side of dispute automation: charge lookups,
// evidence pushes, deflection refunds and webhook decoding.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"golang.org/x/time/rate"

	"github.com/mbd888/chargeguard/internal/dispute"
	"github.com/mbd888/chargeguard/internal/retry"
	"github.com/mbd888/chargeguard/internal/traces"
)

// Default pacing for outbound Stripe calls. Stripe's live-mode limit is
// 100 read and 100 write requests per second per account.
const (
	DefaultRPS   = 25
	DefaultBurst = 10
)

type chargeAPI interface {
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type disputeAPI interface {
	Update(id string, params *stripe.DisputeParams) (*stripe.Dispute, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// Config configures a Client.
type Config struct {
	SecretKey string
	RPS       float64
	Burst     int
	Retry     retry.Policy
}

// Client implements dispute.Processor against the Stripe API. Every call is
// made on behalf of a connected account when one is given.
type Client struct {
	charges  chargeAPI
	disputes disputeAPI
	refunds  refundAPI
	limiter  *rate.Limiter
	retry    retry.Policy
	logger   *slog.Logger
}

// New creates a Client backed by the live Stripe API.
func New(cfg Config, logger *slog.Logger) *Client {
	sc := client.New(cfg.SecretKey, nil)
	return newClient(sc.Charges, sc.Disputes, sc.Refunds, cfg, logger)
}

func newClient(charges chargeAPI, disputes disputeAPI, refunds refundAPI, cfg Config, logger *slog.Logger) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		charges:  charges,
		disputes: disputes,
		refunds:  refunds,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		retry:    cfg.Retry,
		logger:   logger,
	}
}

// GetCharge loads the billing and shipping details the evidence scorer uses.
func (c *Client) GetCharge(ctx context.Context, account, chargeID string) (*dispute.ChargeContext, error) {
	ctx, span := traces.StartSpan(ctx, "processor.GetCharge", traces.Account(account))
	defer span.End()
	start := time.Now()

	var ch *stripe.Charge
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		params := &stripe.ChargeParams{}
		params.Context = ctx
		scope(&params.Params, account)
		var err error
		ch, err = c.charges.Get(chargeID, params)
		return classify(err)
	})
	observe("get_charge", start, err)
	if err != nil {
		traces.RecordError(span, err)
		c.logger.Warn("stripe charge lookup failed", "charge_id", chargeID, "account", account, "error", err)
		return nil, fmt.Errorf("get charge %s: %w", chargeID, err)
	}
	return chargeContext(ch), nil
}

// SubmitEvidence updates the dispute's evidence. payload.Submit decides
// whether Stripe forwards it to the issuer or only stages it.
func (c *Client) SubmitEvidence(ctx context.Context, account, disputeID string, payload dispute.EvidencePayload) error {
	ctx, span := traces.StartSpan(ctx, "processor.SubmitEvidence",
		traces.Account(account), traces.DisputeID(disputeID))
	defer span.End()
	start := time.Now()

	err := c.limiter.Wait(ctx)
	if err == nil {
		params := disputeParams(payload)
		params.Context = ctx
		scope(&params.Params, account)
		_, err = c.disputes.Update(disputeID, params)
	}
	observe("submit_evidence", start, err)
	if err != nil {
		traces.RecordError(span, err)
		c.logger.Warn("stripe evidence update failed",
			"dispute_id", disputeID, "account", account, "submit", payload.Submit, "error", err)
		return fmt.Errorf("update dispute %s: %w", disputeID, describe(err))
	}
	return nil
}

// Refund refunds the full charge. The idempotency key is derived from the
// charge so a repeated deflection never refunds twice.
func (c *Client) Refund(ctx context.Context, account, chargeID string, metadata map[string]string) (string, error) {
	ctx, span := traces.StartSpan(ctx, "processor.Refund", traces.Account(account))
	defer span.End()
	start := time.Now()

	var refund *stripe.Refund
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		params := &stripe.RefundParams{Charge: stripe.String(chargeID)}
		params.Context = ctx
		params.SetIdempotencyKey("deflect-" + chargeID)
		scope(&params.Params, account)
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		var err error
		refund, err = c.refunds.New(params)
		return classify(err)
	})
	observe("refund", start, err)
	if err != nil {
		traces.RecordError(span, err)
		c.logger.Warn("stripe refund failed", "charge_id", chargeID, "account", account, "error", err)
		return "", fmt.Errorf("refund charge %s: %w", chargeID, describe(err))
	}
	return refund.ID, nil
}

func scope(p *stripe.Params, account string) {
	if account != "" {
		p.SetStripeAccount(account)
	}
}

func disputeParams(p dispute.EvidencePayload) *stripe.DisputeParams {
	ev := &stripe.DisputeEvidenceParams{}
	set := func(dst **string, v string) {
		if v != "" {
			*dst = stripe.String(v)
		}
	}
	set(&ev.CustomerName, p.CustomerName)
	set(&ev.CustomerEmailAddress, p.CustomerEmailAddress)
	set(&ev.ProductDescription, p.ProductDescription)
	set(&ev.AccessActivityLog, p.AccessActivityLog)
	set(&ev.RefundPolicyDisclosure, p.RefundPolicyDisclosure)
	set(&ev.CancellationPolicyDisclosure, p.CancellationPolicyDisclosure)
	set(&ev.ShippingCarrier, p.ShippingCarrier)
	set(&ev.ShippingTrackingNumber, p.ShippingTrackingNumber)
	set(&ev.UncategorizedText, p.UncategorizedText)
	return &stripe.DisputeParams{
		Evidence: ev,
		Submit:   stripe.Bool(p.Submit),
	}
}

func chargeContext(ch *stripe.Charge) *dispute.ChargeContext {
	if ch == nil {
		return nil
	}
	out := &dispute.ChargeContext{StatementDescriptor: ch.CalculatedStatementDescriptor}
	if out.StatementDescriptor == "" {
		out.StatementDescriptor = ch.StatementDescriptor
	}
	if ch.BillingDetails != nil {
		out.BillingEmail = ch.BillingDetails.Email
		out.BillingName = ch.BillingDetails.Name
	}
	if ch.Shipping != nil {
		out.ShippingCarrier = ch.Shipping.Carrier
		out.ShippingTrackingNumber = ch.Shipping.TrackingNumber
	}
	return out
}

// classify marks client errors as permanent. Rate limits (429) and server
// errors stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 &&
		se.HTTPStatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// describe prefers Stripe's human-readable message.
func describe(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return fmt.Errorf("%s (%s)", se.Msg, se.Code)
	}
	return err
}

var _ dispute.Processor = (*Client)(nil)
