package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webtestflow/recorder/pkg/hooktoken"
)

// HookToken rejects page callbacks whose token was not issued for the
// session named in the path. A disabled signer lets everything through.
func HookToken(signer *hooktoken.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !signer.Enabled() {
			c.Next()
			return
		}
		token := c.GetHeader(TokenHeader)
		if token == "" {
			token = c.Query("token")
		}
		if err := signer.Verify(token, c.Param("sessionKey")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.Next()
	}
}
