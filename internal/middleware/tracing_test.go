package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTracingEngine(recorder *tracetest.SpanRecorder) *gin.Engine {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return newEngine(TracingWithConfig(TracingConfig{
		TracerProvider: provider,
		Propagators:    propagation.TraceContext{},
		SkipPaths:      []string{"/metrics"},
	}))
}

func TestTracing_ServerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	engine := newTracingEngine(recorder)

	var inHandler trace.SpanContext
	engine.GET("/api/:service/*path", func(c *gin.Context) {
		inHandler = trace.SpanContextFromContext(c.Request.Context())
		require.NotNil(t, GetSpan(c))
		c.Status(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	serve(engine, req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "GET /api/:service/*path", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", span.Parent().SpanID().String())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, span.SpanContext().SpanID(), inHandler.SpanID())

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "users", attrs["gateway.service"])
	assert.Equal(t, "502", attrs["http.status_code"])
}

func TestTracing_SkipsInternalPaths(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	engine := newTracingEngine(recorder)
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(engine, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Empty(t, recorder.Ended())
}
