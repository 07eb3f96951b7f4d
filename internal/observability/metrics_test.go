package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.RecordRequest(http.MethodGet, "/api/:service/*path", 200, 25*time.Millisecond)
	m.RecordRequest(http.MethodGet, "", 404, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.requestsTotal.WithLabelValues(http.MethodGet, "/api/:service/*path", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.requestsTotal.WithLabelValues(http.MethodGet, UnmatchedRoute, "404")))
}

func TestMetrics_WebSocketGauge(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.WebSocketOpened()
	m.WebSocketOpened()
	m.WebSocketClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.websocketConnections))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("gateway")
	m.RecordRequest(http.MethodPost, "/api/:service/*path", 502, time.Second)
	m.RecordRateLimitHit("/api/:service/*path")
	m.RecordAuthFailure("invalid_token")
	m.SetBuildInfo("v1", "abc", "now")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "gateway_http_request_duration_seconds")
	assert.Contains(t, text, "gateway_websocket_connections")
	assert.Contains(t, text, "gateway_rate_limit_hits_total")
	assert.Contains(t, text, `status_code="502"`)
}

func TestMetrics_RegisterCollector(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "extra"})

	require.NoError(t, m.RegisterCollector(c))
	assert.Error(t, m.RegisterCollector(c))
}
