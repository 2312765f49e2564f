package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-join/utils"
)

// RequireRoles lets the request through when the staff role is one of roles.
// admin is always allowed.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(CtxRole)
		if userRole == "" {
			utils.RespondAbort(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			return
		}
		if userRole == "admin" {
			c.Next()
			return
		}
		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}
		utils.RespondAbort(c, http.StatusForbidden, fmt.Errorf("%s access required", roles[0]))
	}
}
