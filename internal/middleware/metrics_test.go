package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	metrics := observability.NewMetrics("mwmetrics")
	engine := newEngine(Metrics(metrics, "/metrics"))
	engine.GET("/api/:service/*path", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(engine, httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/api/users/2", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	serve(engine, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	out := scrape(t, metrics)
	assert.Contains(t, out, `mwmetrics_http_requests_total{method="GET",route="/api/:service/*path",status_code="200"} 2`)
	assert.Contains(t, out, `mwmetrics_http_requests_total{method="GET",route="unmatched",status_code="404"} 1`)
	assert.NotContains(t, out, `route="/metrics"`)
	assert.Contains(t, out, `mwmetrics_http_active_requests{method="GET"} 0`)
}

func TestMetrics_NilMetrics(t *testing.T) {
	engine := newEngine(Metrics(nil, ""))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(engine, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}
