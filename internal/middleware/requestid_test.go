package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/util"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{name: "generates when absent", inbound: "", reuse: false},
		{name: "reuses inbound id", inbound: "req-abc-123", reuse: true},
		{name: "reuses id of 128 chars", inbound: strings.Repeat("a", 128), reuse: true},
		{name: "replaces id longer than 128 chars", inbound: strings.Repeat("a", 129), reuse: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID, ginID string
			var started time.Time
			engine := newEngine(RequestID())
			engine.GET("/x", func(c *gin.Context) {
				ctxID = util.RequestIDFromContext(c.Request.Context())
				started = util.StartTimeFromContext(c.Request.Context())
				ginID = GetRequestID(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := serve(engine, req)

			got := rec.Header().Get(RequestIDHeader)
			require.NotEmpty(t, got)
			assert.Equal(t, got, ctxID)
			assert.Equal(t, got, ginID)
			assert.False(t, started.IsZero())

			if tt.reuse {
				assert.Equal(t, tt.inbound, got)
			} else {
				_, err := uuid.Parse(got)
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestIDWithGenerator(t *testing.T) {
	engine := newEngine(RequestIDWithGenerator(func() string { return "fixed" }))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, "fixed", rec.Header().Get(RequestIDHeader))
}

func TestGetRequestID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetRequestID(c))
}
