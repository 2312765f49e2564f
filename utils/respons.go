package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse is the envelope of every HTTP response.
type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	RespondErrorData(c, code, err, nil)
}

// RespondErrorData is RespondError with a payload, used when the caller
// should still see the current state of the entity it acted on.
func RespondErrorData(c *gin.Context, code int, err error, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    data,
	})
}

// RespondAbort writes an error envelope and stops the handler chain.
func RespondAbort(c *gin.Context, code int, err error) {
	RespondError(c, code, err)
	c.Abort()
}
