package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// WebSocketAuthMiddleware accepts the staff token as a query parameter since
// browsers cannot set headers on a websocket handshake.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" || !setStaffClaims(c, token) {
			c.AbortWithStatus(401)
			return
		}

		c.Next()
	}
}
