package merchant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for merchant settings.
type Handler struct {
	service *Service
}

// NewHandler creates a new merchant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up routes on a group already scoped to
// /merchants/:id and guarded by merchant ownership.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.GetMerchant)
	r.PUT("/policy", h.UpdatePolicy)
	r.PUT("/profile", h.UpdateProfile)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/merchants", h.CreateMerchant)
	r.GET("/merchants", h.ListMerchants)
}

type createMerchantRequest struct {
	Name            string `json:"name" binding:"required"`
	StripeAccountID string `json:"stripeAccountId"`
}

// CreateMerchant handles POST /v1/admin/merchants
func (h *Handler) CreateMerchant(c *gin.Context) {
	var req createMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	m, err := h.service.Create(c.Request.Context(), req.Name, req.StripeAccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"merchant": m})
}

// ListMerchants handles GET /v1/admin/merchants
func (h *Handler) ListMerchants(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchants": list, "count": len(list)})
}

// GetMerchant handles GET /v1/merchants/:id
func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// UpdatePolicy handles PUT /v1/merchants/:id/policy
func (h *Handler) UpdatePolicy(c *gin.Context) {
	var policy Policy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	m, err := h.service.UpdatePolicy(c.Request.Context(), c.Param("id"), policy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": m.Policy})
}

// UpdateProfile handles PUT /v1/merchants/:id/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var profile EvidenceProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	m, err := h.service.UpdateProfile(c.Request.Context(), c.Param("id"), profile)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": m.Profile})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMerchantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
	case errors.Is(err, ErrInvalidPolicy):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_policy", "message": err.Error()})
	case errors.Is(err, ErrAccountTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "account_taken", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
