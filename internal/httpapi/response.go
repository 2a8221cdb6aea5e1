package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned in the "code" field of failed responses.
const (
	codeInvalidRequest       = 10001
	codeInvalidID            = 10002
	codeUnauthorized         = 40100
	codeNotFound             = 40400
	codeOrderNotFound        = 40401
	codeUserNotFound         = 40402
	codeSubscriptionNotFound = 40403
	codeMethod               = 40500
	codeOrderClosed          = 40901
	codeInternal             = 50000
)

type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: 0, Message: "ok", Data: data})
}

func fail(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Code: code, Message: msg})
}
