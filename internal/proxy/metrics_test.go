package proxy

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/backend"
)

func TestMetrics_RecordFailOpenFromRegistry(t *testing.T) {
	m := NewMetrics("test")
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	registry := backend.NewRegistry(
		backend.ServiceTable{"solo": {"http://solo.local"}},
		backend.WithFailOpenHook(m.RecordFailOpen),
	)
	for i := 0; i < backend.FailureThreshold; i++ {
		registry.BeginHTTP("solo", "http://solo.local").Finish(502, backend.NoLatency)
	}

	assert.Equal(t, 0, testutil.CollectAndCount(m.lastFailOpen))

	before := float64(time.Now().Unix())
	_, ok := registry.Pick("solo")
	require.True(t, ok)

	require.Equal(t, 1, testutil.CollectAndCount(m.lastFailOpen))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.lastFailOpen.WithLabelValues("solo")), before)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFailOpen("svc")
		m.RecordCacheServed("svc")
		m.proxyError("svc", errorTypeClient)
	})
}
