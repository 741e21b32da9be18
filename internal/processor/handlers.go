package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chargeguard/internal/dispute"
	"github.com/mbd888/chargeguard/internal/eventlog"
	"github.com/mbd888/chargeguard/internal/merchant"
)

// Stripe recommends rejecting webhook bodies over 64KB.
const maxWebhookBody = 65536

// EventHandler reconciles a decoded dispute event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev dispute.Event) (*dispute.EventOutcome, error)
}

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	parser   *Parser
	events   eventlog.Log
	disputes EventHandler
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(parser *Parser, events eventlog.Log, disputes EventHandler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{parser: parser, events: events, disputes: disputes, logger: logger}
}

// RegisterRoutes sets up the unauthenticated webhook route. Deliveries are
// authenticated by signature instead.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /webhooks/stripe
//
// A non-2xx response makes Stripe redeliver, so only failures worth
// retrying return one.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		webhooksTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": "Webhook body exceeds 64KB"})
		return
	}

	delivery, err := h.parser.Parse(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		webhooksTotal.WithLabelValues("rejected").Inc()
		code := "invalid_signature"
		if errors.Is(err, ErrBadPayload) {
			code = "invalid_payload"
		}
		h.logger.Warn("webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
		return
	}
	if delivery.Event == nil {
		webhooksTotal.WithLabelValues("unsupported").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": "unsupported_event", "type": delivery.Type})
		return
	}

	ctx := c.Request.Context()
	first, err := h.events.MarkSeen(ctx, delivery.EventID)
	if err != nil {
		webhooksTotal.WithLabelValues("error").Inc()
		h.logger.Error("event log unavailable", "event_id", delivery.EventID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "Event log unavailable"})
		return
	}
	if !first {
		webhooksTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	outcome, err := h.disputes.HandleEvent(ctx, *delivery.Event)
	switch {
	case errors.Is(err, merchant.ErrMerchantNotFound):
		webhooksTotal.WithLabelValues("unknown_merchant").Inc()
		h.logger.Warn("webhook for unknown merchant",
			"event_id", delivery.EventID, "account", delivery.Event.Account, "dispute_id", delivery.Event.ID)
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": "unknown_merchant"})
		return
	case err != nil:
		webhooksTotal.WithLabelValues("error").Inc()
		if ferr := h.events.Forget(ctx, delivery.EventID); ferr != nil {
			h.logger.Error("failed to release event id", "event_id", delivery.EventID, "error", ferr)
		}
		h.logger.Error("webhook processing failed",
			"event_id", delivery.EventID, "dispute_id", delivery.Event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to process event"})
		return
	}

	webhooksTotal.WithLabelValues("processed").Inc()
	c.JSON(http.StatusOK, gin.H{
		"received":         true,
		"disputeId":        delivery.Event.ID,
		"ignored":          outcome.Ignored,
		"shouldAutoSubmit": outcome.Decision.ShouldAutoSubmit,
		"pushed":           outcome.Pushed,
	})
}
