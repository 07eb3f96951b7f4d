package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the instrumentation name used when no provider is given.
	TracerName = "streamgw"
	// SpanKey is the gin context key for the server span.
	SpanKey = "otel-span"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
	ServiceName    string
	SkipPaths      []string
}

// Tracing returns a middleware that starts a server span per request
// from the inbound trace context.
func Tracing(serviceName string, skipPaths ...string) gin.HandlerFunc {
	return TracingWithConfig(TracingConfig{
		ServiceName: serviceName,
		SkipPaths:   skipPaths,
	})
}

// TracingWithConfig returns a tracing middleware with custom configuration.
// The provider and propagator are resolved per request so a provider
// installed after the engine is built is still used.
func TracingWithConfig(config TracingConfig) gin.HandlerFunc {
	if config.ServiceName == "" {
		config.ServiceName = TracerName
	}

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipPaths[path] || isHealthCheckPath(path) {
			c.Next()
			return
		}

		provider := config.TracerProvider
		if provider == nil {
			provider = otel.GetTracerProvider()
		}
		propagator := config.Propagators
		if propagator == nil {
			propagator = otel.GetTextMapPropagator()
		}

		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = path
		}
		ctx, span := provider.Tracer(config.ServiceName).Start(ctx,
			fmt.Sprintf("%s %s", c.Request.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", path),
			attribute.String("http.route", route),
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.client_ip", c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Set(SpanKey, span)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if service := c.Param("service"); service != "" {
			span.SetAttributes(attribute.String("gateway.service", service))
		}
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last().Err)
		}
	}
}

// GetSpan returns the server span stored by the tracing middleware.
func GetSpan(c *gin.Context) trace.Span {
	if span, exists := c.Get(SpanKey); exists {
		if s, ok := span.(trace.Span); ok {
			return s
		}
	}
	return nil
}
