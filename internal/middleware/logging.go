package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/util"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger          observability.Logger
	SkipPaths       []string
	SkipHealthCheck bool
}

// Logging returns a middleware that writes one access log line per
// request. Probe endpoints are skipped.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return LoggingWithConfig(LoggingConfig{Logger: logger, SkipHealthCheck: true})
}

// LoggingWithConfig returns a logging middleware with custom configuration.
func LoggingWithConfig(config LoggingConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipPaths[path] || (config.SkipHealthCheck && isHealthCheckPath(path)) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := buildLogFields(c, path, time.Since(start), c.Writer.Status())
		logRequestByStatus(config.Logger, c.Writer.Status(), fields)
	}
}

// buildLogFields builds the log fields from request and response data.
func buildLogFields(c *gin.Context, path string, latency time.Duration, status int) []observability.Field {
	ctx := c.Request.Context()
	fields := []observability.Field{
		observability.String("request_id", util.RequestIDFromContext(ctx)),
		observability.String("method", c.Request.Method),
		observability.String("path", path),
		observability.String("route", c.FullPath()),
		observability.Int("status", status),
		observability.Duration("latency", latency),
		observability.String("client_ip", c.ClientIP()),
		observability.Int("body_size", c.Writer.Size()),
	}

	if service := c.Param("service"); service != "" {
		fields = append(fields, observability.String("service", service))
	}
	if upstream := util.UpstreamFromContext(ctx); upstream != "" {
		fields = append(fields, observability.String("upstream", upstream))
	}
	if subject := util.SubjectFromContext(ctx); subject != "" {
		fields = append(fields, observability.String("subject", subject))
	}
	if len(c.Errors) > 0 {
		fields = append(fields, observability.String("errors", c.Errors.String()))
	}

	return fields
}

// logRequestByStatus logs the request with a level chosen by status class.
func logRequestByStatus(logger observability.Logger, status int, fields []observability.Field) {
	switch {
	case status >= 500:
		logger.Error("request completed", fields...)
	case status >= 400:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}
