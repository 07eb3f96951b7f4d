package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for proxy operations.
var (
	// ErrUnknownService indicates that no upstream is configured for a service.
	ErrUnknownService = errors.New("unknown service")

	// ErrUpstreamTimeout indicates that the upstream did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStreamRelay indicates that relaying a streamed body failed after
	// the response headers were sent.
	ErrStreamRelay = errors.New("stream relay failed")

	// ErrBackpressure indicates that a WebSocket peer fell too far behind.
	ErrBackpressure = errors.New("websocket backpressure exceeded")

	// ErrInvalidBody indicates that a request body could not be encoded.
	ErrInvalidBody = errors.New("invalid request body")

	// ErrRequestTooLarge indicates that the inbound body exceeded the
	// configured size limit while it was being sent upstream.
	ErrRequestTooLarge = errors.New("request body too large")

	// ErrClientCanceled indicates that the client went away before the
	// upstream answered.
	ErrClientCanceled = errors.New("client canceled request")
)

// StatusClientClosedRequest is recorded when the client disconnects
// before a response is written. Nothing is sent on the wire.
const StatusClientClosedRequest = 499

// Error codes written in JSON error bodies.
const (
	CodeUnknownService      = "unknown_service"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInvalidBody         = "invalid_body"
	CodeRequestTooLarge     = "request_too_large"
	CodeClientClosed        = "client_closed_request"
	CodeInternalError       = "internal_error"
)

// ProxyError represents a proxy-related error with details.
type ProxyError struct {
	Op      string // Operation that failed
	Service string // Logical service name
	Target  string // Upstream URL if applicable
	Message string // Human-readable message
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Target != "" {
		if e.Cause != nil {
			return fmt.Sprintf("proxy error [%s] service=%s target=%s: %s: %v",
				e.Op, e.Service, e.Target, e.Message, e.Cause)
		}
		return fmt.Sprintf("proxy error [%s] service=%s target=%s: %s",
			e.Op, e.Service, e.Target, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s] service=%s: %s: %v", e.Op, e.Service, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] service=%s: %s", e.Op, e.Service, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProxyError) Is(target error) bool {
	_, ok := target.(*ProxyError)
	return ok || errors.Is(e.Cause, target)
}

// NewUnknownServiceError creates an error for a service with no upstreams.
func NewUnknownServiceError(service string) *ProxyError {
	return &ProxyError{
		Op:      "pick_upstream",
		Service: service,
		Message: "No upstream configured for service: " + service,
		Cause:   ErrUnknownService,
	}
}

func newTimeoutError(service, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "forward",
		Service: service,
		Target:  target,
		Message: "upstream request timed out",
		Cause:   fmt.Errorf("%w: %v", ErrUpstreamTimeout, cause),
	}
}

func newUnavailableError(service, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "forward",
		Service: service,
		Target:  target,
		Message: "failed to reach upstream",
		Cause:   fmt.Errorf("%w: %v", ErrUpstreamUnavailable, cause),
	}
}

func newStreamError(service, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "stream",
		Service: service,
		Target:  target,
		Message: "upstream response stream failed",
		Cause:   fmt.Errorf("%w: %v", ErrStreamRelay, cause),
	}
}

func newRequestTooLargeError(service, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "forward",
		Service: service,
		Target:  target,
		Message: "request body too large",
		Cause:   fmt.Errorf("%w: %v", ErrRequestTooLarge, cause),
	}
}

func newClientCanceledError(service, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:      "forward",
		Service: service,
		Target:  target,
		Message: "client canceled request",
		Cause:   fmt.Errorf("%w: %v", ErrClientCanceled, cause),
	}
}

// IsClientError reports whether err was caused by the client rather than
// the upstream. Such outcomes must not affect upstream health.
func IsClientError(err error) bool {
	return errors.Is(err, ErrClientCanceled) ||
		errors.Is(err, ErrRequestTooLarge) ||
		errors.Is(err, ErrInvalidBody)
}

// ErrorResponse maps a proxy error to an HTTP status, error code and
// client-facing message.
func ErrorResponse(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, ErrUnknownService):
		var pe *ProxyError
		if errors.As(err, &pe) {
			return http.StatusNotFound, CodeUnknownService, pe.Message
		}
		return http.StatusNotFound, CodeUnknownService, "No upstream configured for service"
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, CodeUpstreamTimeout, "Upstream request timed out"
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway, CodeUpstreamUnavailable, "Failed to reach upstream"
	case errors.Is(err, ErrInvalidBody):
		return http.StatusBadRequest, CodeInvalidBody, "Request body could not be encoded"
	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, CodeRequestTooLarge, "Request body too large"
	case errors.Is(err, ErrClientCanceled):
		return StatusClientClosedRequest, CodeClientClosed, "Client closed request"
	default:
		return http.StatusInternalServerError, CodeInternalError, "Internal server error"
	}
}
