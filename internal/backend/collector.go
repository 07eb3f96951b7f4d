package backend

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports registry state at scrape time.
type Collector struct {
	registry *Registry

	inflight      *prometheus.Desc
	requestsTotal *prometheus.Desc
	errorsTotal   *prometheus.Desc
	latency       *prometheus.Desc
	rps           *prometheus.Desc
	circuitOpen   *prometheus.Desc
	failOpenTotal *prometheus.Desc
}

// NewCollector creates a collector for the registry.
func NewCollector(registry *Registry) *Collector {
	labels := []string{"service", "upstream"}
	return &Collector{
		registry: registry,
		inflight: prometheus.NewDesc(
			"gateway_upstream_inflight",
			"In-flight requests per upstream and protocol",
			[]string{"service", "upstream", "protocol"}, nil,
		),
		requestsTotal: prometheus.NewDesc(
			"gateway_upstream_requests_total",
			"Requests started against the upstream",
			labels, nil,
		),
		errorsTotal: prometheus.NewDesc(
			"gateway_upstream_errors_total",
			"Failed requests against the upstream",
			labels, nil,
		),
		latency: prometheus.NewDesc(
			"gateway_upstream_latency_ewma_seconds",
			"Smoothed upstream latency",
			labels, nil,
		),
		rps: prometheus.NewDesc(
			"gateway_upstream_requests_per_second",
			"Most recent request rate sample",
			labels, nil,
		),
		circuitOpen: prometheus.NewDesc(
			"gateway_upstream_circuit_open",
			"Circuit state (1=open, 0=closed)",
			labels, nil,
		),
		failOpenTotal: prometheus.NewDesc(
			"gateway_upstream_fail_open_total",
			"Picks made while every circuit of the service was open",
			[]string{"service"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inflight
	ch <- c.requestsTotal
	ch <- c.errorsTotal
	ch <- c.latency
	ch <- c.rps
	ch <- c.circuitOpen
	ch <- c.failOpenTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()

	for _, name := range snap.ServiceNames() {
		svc := snap.Services[name]
		ch <- prometheus.MustNewConstMetric(
			c.failOpenTotal, prometheus.CounterValue, float64(svc.FailOpenPicks), name)

		for _, u := range svc.UpstreamDetails {
			ch <- prometheus.MustNewConstMetric(
				c.inflight, prometheus.GaugeValue, float64(u.Inflight.HTTP), name, u.URL, ProtocolHTTP.String())
			ch <- prometheus.MustNewConstMetric(
				c.inflight, prometheus.GaugeValue, float64(u.Inflight.SSE), name, u.URL, ProtocolSSE.String())
			ch <- prometheus.MustNewConstMetric(
				c.inflight, prometheus.GaugeValue, float64(u.Inflight.WS), name, u.URL, ProtocolWebSocket.String())
			ch <- prometheus.MustNewConstMetric(
				c.requestsTotal, prometheus.CounterValue, float64(u.RequestsTotal), name, u.URL)
			ch <- prometheus.MustNewConstMetric(
				c.errorsTotal, prometheus.CounterValue, float64(u.ErrorsTotal), name, u.URL)
			ch <- prometheus.MustNewConstMetric(
				c.rps, prometheus.GaugeValue, u.RPS, name, u.URL)

			if u.Latency.EWMAMs != nil {
				ch <- prometheus.MustNewConstMetric(
					c.latency, prometheus.GaugeValue, *u.Latency.EWMAMs/1000, name, u.URL)
			}

			open := 0.0
			if !u.Healthy {
				open = 1
			}
			ch <- prometheus.MustNewConstMetric(
				c.circuitOpen, prometheus.GaugeValue, open, name, u.URL)
		}
	}
}
