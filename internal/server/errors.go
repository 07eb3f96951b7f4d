package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/proxy"
)

// Error codes owned by the server itself.
const (
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
)

// ErrNoRegistry is returned by New when no upstream registry is given.
var ErrNoRegistry = errors.New("server: upstream registry is required")

// ErrorBody is the JSON body of every gateway-generated error.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError aborts the chain with a JSON error body.
func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code, Message: message})
}

// writeProxyError maps a proxy error to its status and body.
func writeProxyError(c *gin.Context, err error) {
	status, code, message := proxy.ErrorResponse(err)
	_ = c.Error(err)
	writeError(c, status, code, message)
}
