package dispute

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chargeguard/internal/auth"
)

// ---------------------------------------------------------------------------
// Test router setup
// ---------------------------------------------------------------------------

func setupHandlerTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	handler := NewHandler(f.svc)

	r := gin.New()
	v1 := r.Group("/v1")

	// Simulate the portal token middleware
	portal := v1.Group("")
	portal.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Merchant-ID"); id != "" {
			c.Set(auth.ContextKeyMerchantID, id)
		}
		c.Next()
	})
	handler.RegisterRoutes(portal)
	handler.RegisterMerchantRoutes(portal.Group("/merchants/:id"))

	admin := v1.Group("/admin")
	admin.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyAdmin, true)
		c.Next()
	})
	handler.RegisterAdminRoutes(admin)

	return r, f
}

func doJSON(r *gin.Engine, method, path, merchantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if merchantID != "" {
		req.Header.Set("X-Merchant-ID", merchantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_GetDispute(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodGet, "/v1/disputes/dp_ready", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Dispute Record `json:"dispute"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dp_ready", resp.Dispute.ID)
	assert.Equal(t, 80, resp.Dispute.EvidenceScore)
}

func TestHandler_OwnershipFromPortalToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	f.seed(t, readyRecord())
	tokens := auth.NewTokenManager("test-secret-at-least-32-bytes-long", time.Hour)

	r := gin.New()
	v1 := r.Group("/v1", auth.Middleware(tokens, "admin-secret"), auth.RequireAuth())
	NewHandler(f.svc).RegisterRoutes(v1)

	get := func(header, value string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/disputes/dp_ready", nil)
		req.Header.Set(header, value)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	own, _, err := tokens.Issue("mer_1")
	require.NoError(t, err)
	other, _, err := tokens.Issue("mer_2")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get("Authorization", "Bearer "+own))
	assert.Equal(t, http.StatusNotFound, get("Authorization", "Bearer "+other))
	assert.Equal(t, http.StatusOK, get("X-Admin-Secret", "admin-secret"))
}

func TestHandler_OtherMerchantSeesNotFound(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodGet, "/v1/disputes/dp_ready", "mer_2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/disputes/dp_ready/retry", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, f.proc.submitCount())
}

func TestHandler_Readiness(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	rec := readyRecord()
	rec.ManualReviewRequired = true
	f.seed(t, rec)

	w := doJSON(r, http.MethodGet, "/v1/disputes/dp_ready/readiness", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ready"])
	assert.Equal(t, "manual_review_required", resp["reasonCode"])
	assert.Equal(t, float64(95), resp["priority"])
	assert.Equal(t, "dp_ready", resp["disputeId"])
}

func TestHandler_Retry(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodPost, "/v1/disputes/dp_ready/retry", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RetryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "submitted", resp.Message)
}

func TestHandler_Deflect(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	rec := readyRecord()
	rec.ChargeID = "ch_1"
	f.seed(t, rec)
	f.seed(t, &Record{ID: "dp_nocharge", MerchantID: "mer_1", Status: "needs_response"})

	w := doJSON(r, http.MethodPost, "/v1/disputes/dp_ready/deflect", "mer_1", gin.H{"reason": "goodwill"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp DeflectResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "re_ch_1", resp.RefundID)

	w = doJSON(r, http.MethodPost, "/v1/disputes/dp_nocharge/deflect", "mer_1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_UpdateWorkflow(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodPatch, "/v1/disputes/dp_ready/workflow", "mer_1", gin.H{"workflowStatus": "done", "owner": "kim"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPatch, "/v1/disputes/dp_ready/workflow", "mer_1", gin.H{"workflowStatus": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_QueueAndMetrics(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodGet, "/v1/merchants/mer_1/queue", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var q Queue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, 1, q.Total)
	assert.Equal(t, 1, q.Ready)

	w = doJSON(r, http.MethodGet, "/v1/merchants/mer_1/metrics", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alerts30d":3`)

	w = doJSON(r, http.MethodGet, "/v1/merchants/mer_unknown/queue", "mer_unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_OptimizeDryRun(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	for _, rec := range decided("duplicate", 3, 0) {
		f.seed(t, rec)
	}

	w := doJSON(r, http.MethodPost, "/v1/merchants/mer_1/optimize", "mer_1", gin.H{"dryRun": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"applied":false`)

	w = doJSON(r, http.MethodPost, "/v1/merchants/mer_1/optimize", "mer_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"applied":true`)
}

func TestHandler_OptimizeExplicitZeroWinRate(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	for _, rec := range decided("fraudulent", 1, 4) {
		f.seed(t, rec)
	}

	w := doJSON(r, http.MethodPost, "/v1/merchants/mer_1/optimize", "mer_1", gin.H{"dryRun": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"riskyReasons":["fraudulent"]`)

	w = doJSON(r, http.MethodPost, "/v1/merchants/mer_1/optimize", "mer_1", gin.H{"dryRun": true, "minWinRatePct": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"riskyReasons":[]`)
	assert.Contains(t, w.Body.String(), `"allowList":["fraudulent"]`)
}

func TestHandler_AdminSweepAndIngest(t *testing.T) {
	r, f := setupHandlerTestRouter(t)
	f.seed(t, readyRecord())

	w := doJSON(r, http.MethodPost, "/v1/admin/disputes/sweep", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"submitted":1`)

	ev := webhookEvent()
	ev.ID = "dp_ingest"
	w = doJSON(r, http.MethodPost, "/v1/admin/disputes/events", "", ev)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ev.Kind = "refunded"
	w = doJSON(r, http.MethodPost, "/v1/admin/disputes/events", "", ev)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
