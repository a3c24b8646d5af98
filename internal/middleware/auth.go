// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and request metadata capture.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → RequireRole → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any
// cryptographic work. Auth populates the caller identity and role; RequireRole
// reads from that context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/auth"
	"github.com/domara/audit-engine/internal/undo"
)

// Context keys populated by AuthMiddleware.
const (
	// UserIDKey holds the authenticated caller's uuid.UUID.
	UserIDKey = "user_id"
	// EmailKey holds the caller's email address.
	EmailKey = "email"
	// RoleKey holds the caller's undo.Role.
	RoleKey = "role"
)

// AuthMiddleware validates the Bearer JWT on every request and populates the
// caller's identity and role in the gin context. Authentication is entirely
// stateless: a signature check against the shared secret, no database work.
func AuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(EmailKey, claims.Email)
		c.Set(RoleKey, claims.SupportRole())

		c.Next()
	}
}

// OptionalAuthMiddleware populates identity when a valid token is present but
// never rejects the request. Used on endpoints that serve both anonymous and
// authenticated callers.
func OptionalAuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		if claims, err := tokens.Validate(token); err == nil {
			if userID, err := uuid.Parse(claims.UserID); err == nil {
				c.Set(UserIDKey, userID)
				c.Set(EmailKey, claims.Email)
				c.Set(RoleKey, claims.SupportRole())
			}
		}

		c.Next()
	}
}

// CallerID returns the authenticated caller's ID, or uuid.Nil when the
// request is anonymous.
func CallerID(c *gin.Context) uuid.UUID {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// CallerRole returns the authenticated caller's role, or the empty role when
// the request is anonymous or carried an unknown role claim.
func CallerRole(c *gin.Context) undo.Role {
	if v, exists := c.Get(RoleKey); exists {
		if role, ok := v.(undo.Role); ok {
			return role
		}
	}
	return ""
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
