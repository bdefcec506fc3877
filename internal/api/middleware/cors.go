// Package middleware holds the gin middleware shared by the hook and
// operator routes.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenHeader carries a hook token when the page does not put it in the
// query string.
const TokenHeader = "X-Recorder-Token"

// CORSMiddleware lets recorded pages on any origin reach the hooks.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+TokenHeader)
		c.Header("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
