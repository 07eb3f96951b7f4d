package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Error codes written in JSON error bodies.
const (
	CodeUnauthorized  = "unauthorized"
	CodeRateLimited   = "rate_limited"
	CodeInternalError = "internal_error"
)

const (
	headerAuthorization = "Authorization"
	headerRetryAfter    = "Retry-After"

	// maxRequestIDLength bounds inbound request ids that are reused.
	maxRequestIDLength = 128
)

// isHealthCheckPath reports whether path is a probe endpoint.
func isHealthCheckPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// isInternalPath reports whether path is served by the gateway itself
// and should not be logged, traced or rate limited.
func isInternalPath(path, metricsPath string) bool {
	return isHealthCheckPath(path) || (metricsPath != "" && path == metricsPath)
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(value string) string {
	const prefix = "Bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(value[len(prefix):])
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": code, "message": message}
}
