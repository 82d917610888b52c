package middleware

import (
	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header for responses. Per-user
// listings use "private, no-store" so shared proxies never hold them.
func CacheControl(directive string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", directive)
		c.Next()
	}
}
