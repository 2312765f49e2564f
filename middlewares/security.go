package middlewares

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the response headers shared by guest screens and the
// staff dashboard. HSTS is only sent in release mode, where the service sits
// behind TLS.
func SecurityHeaders() gin.HandlerFunc {
	hsts := gin.Mode() == gin.ReleaseMode
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		// Join state changes every few seconds.
		h.Set("Cache-Control", "no-store")

		c.Next()
	}
}
