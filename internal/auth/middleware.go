package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyMerchantID holds the merchant a portal token is scoped to.
	ContextKeyMerchantID = "authMerchantID"
	// ContextKeyAdmin is true when the request carried the admin secret.
	ContextKeyAdmin = "authAdmin"

	adminHeader = "X-Admin-Secret"
)

// Middleware reads a bearer portal token and the admin secret header and
// records what they prove in the gin context. It never rejects a request.
func Middleware(tokens *TokenManager, adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c.GetHeader("Authorization")); raw != "" && tokens != nil {
			if claims, err := tokens.Validate(raw); err == nil {
				c.Set(ContextKeyMerchantID, claims.MerchantID)
			}
		}
		if adminSecret != "" {
			if got := c.GetHeader(adminHeader); got != "" &&
				subtle.ConstantTimeCompare([]byte(got), []byte(adminSecret)) == 1 {
				c.Set(ContextKeyAdmin, true)
			}
		}
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// RequireAuth rejects requests with neither a portal token nor the admin secret.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) && MerchantID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Portal token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireMerchant requires the token's merchant to match the :paramName
// route parameter. Operators pass.
func RequireMerchant(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAdmin(c) {
			c.Next()
			return
		}
		id := MerchantID(c)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Portal token required.",
			})
			return
		}
		if id != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Token is not valid for this merchant.",
			})
			return
		}
		c.Next()
	}
}

// AdminOnly requires the admin secret.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required.",
			})
			return
		}
		c.Next()
	}
}

// MerchantID returns the authenticated merchant, or "".
func MerchantID(c *gin.Context) string {
	return c.GetString(ContextKeyMerchantID)
}

// IsAdmin reports whether the request carried the admin secret.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}
