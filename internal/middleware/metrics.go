package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// Metrics returns a middleware that records request count, latency and
// in-flight gauge. The route label is the matched route pattern so
// cardinality stays bounded. The metrics endpoint itself is skipped.
func Metrics(metrics *observability.Metrics, metricsPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil || (metricsPath != "" && c.Request.URL.Path == metricsPath) {
			c.Next()
			return
		}

		method := c.Request.Method
		start := time.Now()
		metrics.IncrementActiveRequests(method)
		defer metrics.DecrementActiveRequests(method)

		c.Next()

		metrics.RecordRequest(method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
