// requestmeta.go captures the HTTP request context that audit records attach
// to every action. Handlers read the prepared metadata instead of picking the
// request apart themselves, so all records describe their origin the same way.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/domara/audit-engine/internal/db/models"
)

// requestMetaKey is the gin.Context key under which the metadata is stored.
const requestMetaKey = "request_metadata"

// RequestMetadataMiddleware stores a models.RequestMetadata describing the
// current request in the gin context. The status code is not filled in here:
// it is only known after the handler runs, and records are written inside the
// handler's own transaction. Handlers that care set it themselves.
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		userAgent := c.Request.UserAgent()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		method := c.Request.Method

		meta := &models.RequestMetadata{
			IPAddress: &ip,
			Endpoint:  &endpoint,
			Method:    &method,
		}
		if userAgent != "" {
			meta.UserAgent = &userAgent
		}

		c.Set(requestMetaKey, meta)
		c.Next()
	}
}

// RequestMetadata returns the metadata captured for the current request, or
// nil when the middleware is not installed.
func RequestMetadata(c *gin.Context) *models.RequestMetadata {
	if v, exists := c.Get(requestMetaKey); exists {
		if meta, ok := v.(*models.RequestMetadata); ok {
			return meta
		}
	}
	return nil
}
