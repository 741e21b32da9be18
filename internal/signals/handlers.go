package signals

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for alerts and inquiries.
type Handler struct {
	service *Service
}

// NewHandler creates a new signals handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up routes on a group already scoped to /merchants/:id.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/alerts", h.record(KindAlert))
	r.GET("/alerts", h.list(KindAlert))
	r.POST("/inquiries", h.record(KindInquiry))
	r.GET("/inquiries", h.list(KindInquiry))
}

// record handles POST /v1/merchants/:id/alerts and /inquiries
func (h *Handler) record(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		sig, created, err := h.service.Record(c.Request.Context(), c.Param("id"), kind, req)
		if err != nil {
			if errors.Is(err, ErrInvalidSignal) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"signal": sig, "duplicate": !created})
	}
}

// list handles GET /v1/merchants/:id/alerts and /inquiries
func (h *Handler) list(kind Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if l := c.Query("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		list, err := h.service.List(c.Request.Context(), c.Param("id"), kind, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		if list == nil {
			list = []*Signal{}
		}
		c.JSON(http.StatusOK, gin.H{"signals": list, "count": len(list)})
	}
}
