package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/dispute"
	"github.com/mbd888/chargeguard/internal/eventlog"
	"github.com/mbd888/chargeguard/internal/merchant"
)

type fakeEventHandler struct {
	err    error
	events []dispute.Event
}

func (f *fakeEventHandler) HandleEvent(_ context.Context, ev dispute.Event) (*dispute.EventOutcome, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &dispute.EventOutcome{
		Dispute:  &dispute.Record{ID: ev.ID},
		Decision: dispute.Decision{ShouldAutoSubmit: true},
		Pushed:   true,
	}, nil
}

func setupWebhookRouter(h EventHandler) (*gin.Engine, *eventlog.MemoryLog) {
	gin.SetMode(gin.TestMode)
	log := eventlog.NewMemoryLog(0)
	r := gin.New()
	NewWebhookHandler(NewParser(testSecret), log, h, nil).RegisterRoutes(r.Group(""))
	return r, log
}

func deliver(r *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_ProcessesOnce(t *testing.T) {
	h := &fakeEventHandler{}
	r, _ := setupWebhookRouter(h)
	payload := eventJSON("evt_1", "charge.dispute.created", "acct_1")

	w := deliver(r, payload, sign(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"shouldAutoSubmit":true`)

	w = deliver(r, payload, sign(payload))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)
	assert.Len(t, h.events, 1)
}

func TestWebhook_BadSignature(t *testing.T) {
	h := &fakeEventHandler{}
	r, _ := setupWebhookRouter(h)
	payload := eventJSON("evt_1", "charge.dispute.created", "acct_1")

	w := deliver(r, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.events)
}

func TestWebhook_UnsupportedTypeAcknowledged(t *testing.T) {
	h := &fakeEventHandler{}
	r, log := setupWebhookRouter(h)
	payload := eventJSON("evt_1", "payment_intent.succeeded", "acct_1")

	w := deliver(r, payload, sign(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported_event")
	assert.Empty(t, h.events)
	assert.Equal(t, 0, log.Len())
}

func TestWebhook_UnknownMerchantAcknowledged(t *testing.T) {
	h := &fakeEventHandler{err: fmt.Errorf("resolve: %w", merchant.ErrMerchantNotFound)}
	r, _ := setupWebhookRouter(h)
	payload := eventJSON("evt_1", "charge.dispute.created", "acct_unknown")

	w := deliver(r, payload, sign(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_merchant")
}

func TestWebhook_FailureAllowsRedelivery(t *testing.T) {
	h := &fakeEventHandler{err: errors.New("database down")}
	r, _ := setupWebhookRouter(h)
	payload := eventJSON("evt_1", "charge.dispute.updated", "acct_1")

	w := deliver(r, payload, sign(payload))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	h.err = nil
	w = deliver(r, payload, sign(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "duplicate")
	assert.Len(t, h.events, 2)
}

func TestWebhook_OversizedBody(t *testing.T) {
	r, _ := setupWebhookRouter(&fakeEventHandler{})
	w := deliver(r, bytes.Repeat([]byte("x"), maxWebhookBody+10), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
