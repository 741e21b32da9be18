package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chargeguard/internal/auth"
	"github.com/mbd888/chargeguard/internal/merchant"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterMerchantRoutes sets up routes on a group already scoped to
// /merchants/:id and guarded by merchant ownership.
func (h *Handler) RegisterMerchantRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)
	r.GET("/queue", h.GetQueue)
	r.GET("/metrics", h.GetMetrics)
	r.POST("/optimize", h.Optimize)
}

// RegisterRoutes sets up per-dispute routes. Ownership is checked against
// the stored record.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/disputes/:id/readiness", h.GetReadiness)
	r.POST("/disputes/:id/retry", h.Retry)
	r.POST("/disputes/:id/deflect", h.Deflect)
	r.PATCH("/disputes/:id/workflow", h.UpdateWorkflow)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/sweep", h.Sweep)
	r.POST("/disputes/events", h.IngestEvent)
}

// ListDisputes handles GET /v1/merchants/:id/disputes
func (h *Handler) ListDisputes(c *gin.Context) {
	records, err := h.service.ListByMerchant(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}
	c.JSON(http.StatusOK, gin.H{"disputes": records, "count": len(records)})
}

// GetQueue handles GET /v1/merchants/:id/queue
func (h *Handler) GetQueue(c *gin.Context) {
	q, err := h.service.Queue(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if q.Items == nil {
		q.Items = []QueueItem{}
	}
	c.JSON(http.StatusOK, q)
}

// GetMetrics handles GET /v1/merchants/:id/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	m, err := h.service.Metrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": m})
}

type optimizeRequest struct {
	MinCases      int      `json:"minCases"`
	MinWinRatePct *float64 `json:"minWinRatePct"`
	DryRun        bool     `json:"dryRun"`
}

// Optimize handles POST /v1/merchants/:id/optimize
func (h *Handler) Optimize(c *gin.Context) {
	var req optimizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}
	opts := OptimizeOptions{MinCases: req.MinCases, MinWinRatePct: req.MinWinRatePct}

	var (
		res *OptimizeResult
		err error
	)
	if req.DryRun {
		res, err = h.service.ProposeReasons(c.Request.Context(), c.Param("id"), opts)
	} else {
		res, err = h.service.OptimizeReasons(c.Request.Context(), c.Param("id"), opts)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "applied": !req.DryRun && res.Changed})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	rec, ok := h.authorize(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": rec})
}

// GetReadiness handles GET /v1/disputes/:id/readiness
func (h *Handler) GetReadiness(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}
	res, err := h.service.Readiness(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Retry handles POST /v1/disputes/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}
	res, err := h.service.Retry(c.Request.Context(), c.Param("id"), TriggerManualRetry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type deflectRequest struct {
	Reason string `json:"reason"`
}

// Deflect handles POST /v1/disputes/:id/deflect
func (h *Handler) Deflect(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}
	var req deflectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}
	res, err := h.service.Deflect(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

// UpdateWorkflow handles PATCH /v1/disputes/:id/workflow
func (h *Handler) UpdateWorkflow(c *gin.Context) {
	if _, ok := h.authorize(c); !ok {
		return
	}
	var req WorkflowUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	rec, err := h.service.UpdateWorkflow(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": rec})
}

// Sweep handles POST /v1/admin/disputes/sweep
func (h *Handler) Sweep(c *gin.Context) {
	report, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// IngestEvent handles POST /v1/admin/disputes/events, replaying a
// normalized processor event.
func (h *Handler) IngestEvent(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	switch ev.Kind {
	case EventCreated, EventUpdated, EventClosed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "kind must be created, updated or closed"})
		return
	}
	out, err := h.service.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// authorize loads the dispute named by :id and checks the caller may see it.
// It writes the error response itself.
func (h *Handler) authorize(c *gin.Context) (*Record, bool) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if auth.IsAdmin(c) || auth.MerchantID(c) == rec.MerchantID {
		return rec, true
	}
	// Same response as a missing dispute, so ids of other merchants do not leak.
	writeError(c, ErrDisputeNotFound)
	return nil, false
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Dispute not found"})
	case errors.Is(err, merchant.ErrMerchantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
	case errors.Is(err, ErrDisputeClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "dispute_closed", "message": err.Error()})
	case errors.Is(err, ErrNoCharge):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_charge", "message": err.Error()})
	case errors.Is(err, ErrInvalidWorkflow), errors.Is(err, ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
