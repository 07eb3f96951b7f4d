package backend

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Collect(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, usersTable())
	r.BeginHTTP("users", upstreamA).Finish(200, 20*time.Millisecond)
	failN(r, "users", upstreamB, FailureThreshold)

	c := NewCollector(r)

	assert.Equal(t, 2, testutil.CollectAndCount(c, "gateway_upstream_requests_total"))
	assert.Equal(t, 6, testutil.CollectAndCount(c, "gateway_upstream_inflight"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "gateway_upstream_latency_ewma_seconds"))

	expected := `
# HELP gateway_upstream_circuit_open Circuit state (1=open, 0=closed)
# TYPE gateway_upstream_circuit_open gauge
gateway_upstream_circuit_open{service="users",upstream="http://a"} 0
gateway_upstream_circuit_open{service="users",upstream="http://b"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "gateway_upstream_circuit_open"))
}
