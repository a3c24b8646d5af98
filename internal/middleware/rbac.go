// rbac.go implements role-based authorization middleware.
//
// Roles are embedded in the JWT rather than looked up per request: the role
// set is three fixed levels and changing someone's role means re-issuing
// their token, which is rare enough that the stateless check wins.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/domara/audit-engine/internal/undo"
)

// RequireRole allows the request through only when the authenticated caller
// holds one of the listed roles. Anonymous requests and unknown role claims
// are rejected with 403.
func RequireRole(roles ...undo.Role) gin.HandlerFunc {
	allowed := make(map[undo.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role := CallerRole(c)
		if !role.Known() || !allowed[role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// RequireKnownRole allows any authenticated caller with a recognized role.
// Used on read endpoints where the role only scopes what the response marks
// as undoable, not whether the caller may look.
func RequireKnownRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CallerRole(c).Known() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}
