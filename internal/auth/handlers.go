package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// MerchantLookup confirms a merchant exists before a token is issued.
type MerchantLookup interface {
	Get(ctx context.Context, id string) (*merchant.Merchant, error)
}

// Handler provides token endpoints.
type Handler struct {
	tokens    *TokenManager
	merchants MerchantLookup
}

// NewHandler creates a new auth handler.
func NewHandler(tokens *TokenManager, merchants MerchantLookup) *Handler {
	return &Handler{tokens: tokens, merchants: merchants}
}

// RegisterRoutes sets up routes that need only a valid token.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/merchants/:id/token", h.IssueToken)
}

// IssueToken handles POST /v1/admin/merchants/:id/token
func (h *Handler) IssueToken(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.merchants.Get(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
		return
	}
	token, exp, err := h.tokens.Issue(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      token,
		"merchantId": id,
		"expiresAt":  exp,
		"usage":      "Authorization: Bearer " + token,
	})
}

// Info handles GET /v1/auth/info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"merchantId": MerchantID(c),
		"admin":      IsAdmin(c),
	})
}
