package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-join/utils"
)

// Context keys set once a staff token has been verified.
const (
	CtxStaffID    = "staff_id"
	CtxRole       = "role"
	CtxMerchantID = "merchant_id"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondAbort(c, http.StatusUnauthorized, errors.New("Authorization header missing"))
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if !setStaffClaims(c, tokenString) {
			utils.RespondAbort(c, http.StatusUnauthorized, errors.New("Invalid or expired token"))
			return
		}

		c.Next()
	}
}

func setStaffClaims(c *gin.Context, tokenString string) bool {
	claims, err := utils.ParseToken(tokenString)
	if err != nil || claims == nil || claims.StaffID == "" {
		return false
	}
	c.Set(CtxStaffID, claims.StaffID)
	c.Set(CtxRole, claims.Role)
	c.Set(CtxMerchantID, claims.MerchantID)
	return true
}
