// Package auth handles JWT token creation, signing, and verification for the
// administration surface. Tokens carry the caller's identity and support role;
// the role is embedded in the token because the role set is tiny and changes
// through re-issuing, not through a database lookup on every request.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/config"
	"github.com/domara/audit-engine/internal/undo"
)

var (
	// ErrMissingSecret is returned when no JWT secret is configured.
	ErrMissingSecret = errors.New("auth: jwt secret is not configured")

	// ErrInvalidToken is returned for tokens that fail signature, expiry, or
	// issuer checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims is the JWT claims structure for administration tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SupportRole returns the role claim as a typed role. Unknown or missing
// roles come back as the zero value, which no permission check accepts.
func (c *Claims) SupportRole() undo.Role {
	r := undo.Role(c.Role)
	if !r.Known() {
		return ""
	}
	return r
}

// TokenManager signs and verifies administration tokens with a shared secret.
type TokenManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenManager builds a TokenManager from configuration. It fails when no
// secret is set; a short secret is tolerated with a warning so local setups
// keep working.
func NewTokenManager(cfg config.JWTConfig) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if len(cfg.Secret) < 32 {
		slog.Warn("jwt secret is shorter than the recommended 32 characters")
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "audit-engine"
	}

	return &TokenManager{
		secret: []byte(cfg.Secret),
		issuer: issuer,
		expiry: expiry,
	}, nil
}

// Generate creates a signed token for an authenticated administrator.
func (m *TokenManager) Generate(userID uuid.UUID, email string, role undo.Role) (string, error) {
	if !role.Known() {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID.String(),
		Email:  email,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and verifies a token, returning its claims.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
