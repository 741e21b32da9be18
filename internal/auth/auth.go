// Package auth authenticates portal and operator requests.
//
// Authentication model:
//   - Merchant portal: short-lived HS256 bearer tokens scoped to one merchant,
//     issued by an operator.
//   - Operators: the shared admin secret in X-Admin-Secret.
//   - Stripe webhooks: verified by signature in the processor package.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrNoSecret     = errors.New("auth: token secret not configured")
)

const (
	issuer   = "chargeguard"
	audience = "chargeguard-portal"

	// DefaultTokenTTL is used when no TTL is configured.
	DefaultTokenTTL = 12 * time.Hour
)

// PortalClaims are the claims of a merchant portal token.
type PortalClaims struct {
	jwt.RegisteredClaims
	MerchantID string `json:"merchant_id"`
}

// TokenManager issues and validates portal tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a token manager. A non-positive ttl uses
// DefaultTokenTTL.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for merchantID and returns it with its expiry.
func (m *TokenManager) Issue(merchantID string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	claims := PortalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   merchantID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		MerchantID: merchantID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate parses a token and returns its claims.
func (m *TokenManager) Validate(tokenString string) (*PortalClaims, error) {
	if len(m.secret) == 0 {
		return nil, ErrNoSecret
	}
	claims := &PortalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.MerchantID == "" {
		return nil, fmt.Errorf("%w: missing merchant", ErrInvalidToken)
	}
	return claims, nil
}
