package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Error types recorded by the proxy and the bridge.
const (
	errorTypeTimeout      = "timeout"
	errorTypeUnavailable  = "unavailable"
	errorTypeStream       = "stream"
	errorTypeBackpressure = "backpressure"
	errorTypeUpstream     = "upstream_error"
	errorTypeDial         = "dial_failed"
	errorTypeClient       = "client"
)

// Message directions.
const (
	directionToUpstream = "to_upstream"
	directionToClient   = "to_client"
)

// Metrics contains Prometheus metrics for proxied HTTP and WebSocket
// traffic.
type Metrics struct {
	upstreamDuration     *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	cacheServed          *prometheus.CounterVec
	wsConnectionsTotal   *prometheus.CounterVec
	wsMessagesTotal      *prometheus.CounterVec
	wsErrorsTotal        *prometheus.CounterVec
	wsConnectionDuration *prometheus.HistogramVec
	lastFailOpen         *prometheus.GaugeVec
}

// NewMetrics creates proxy metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Time until upstream response headers were received",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of proxy errors",
			},
			[]string{"service", "error_type"},
		),
		cacheServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "cache_served_total",
				Help:      "Total number of responses served from the response cache",
			},
			[]string{"service"},
		),
		wsConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bridged_connections_total",
				Help:      "Total number of WebSocket connections bridged to an upstream",
			},
			[]string{"service"},
		),
		wsMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "Total number of relayed WebSocket messages",
			},
			[]string{"service", "direction"},
		),
		wsErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_errors_total",
				Help:      "Total number of WebSocket bridge errors",
			},
			[]string{"service", "error_type"},
		),
		wsConnectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_connection_duration_seconds",
				Help:      "Duration of bridged WebSocket connections in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"service"},
		),
		lastFailOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "last_fail_open_timestamp_seconds",
				Help:      "Unix time of the last pick made while every upstream circuit was open",
			},
			[]string{"service"},
		),
	}
}

// MustRegister registers all proxy metrics with the given registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.upstreamDuration,
		m.errorsTotal,
		m.cacheServed,
		m.wsConnectionsTotal,
		m.wsMessagesTotal,
		m.wsErrorsTotal,
		m.wsConnectionDuration,
		m.lastFailOpen,
	)
}

// RecordCacheServed counts a response answered from the cache.
func (m *Metrics) RecordCacheServed(service string) {
	if m != nil {
		m.cacheServed.WithLabelValues(service).Inc()
	}
}

// RecordFailOpen marks a pick that fell back to an open circuit. It
// matches the backend.WithFailOpenHook signature.
func (m *Metrics) RecordFailOpen(service string) {
	if m != nil {
		m.lastFailOpen.WithLabelValues(service).SetToCurrentTime()
	}
}

func (m *Metrics) observeUpstream(service string, d time.Duration) {
	if m != nil {
		m.upstreamDuration.WithLabelValues(service).Observe(d.Seconds())
	}
}

func (m *Metrics) proxyError(service, errorType string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(service, errorType).Inc()
	}
}

func (m *Metrics) wsConnected(service string) {
	if m != nil {
		m.wsConnectionsTotal.WithLabelValues(service).Inc()
	}
}

func (m *Metrics) wsMessage(service, direction string) {
	if m != nil {
		m.wsMessagesTotal.WithLabelValues(service, direction).Inc()
	}
}

func (m *Metrics) wsError(service, errorType string) {
	if m != nil {
		m.wsErrorsTotal.WithLabelValues(service, errorType).Inc()
	}
}

func (m *Metrics) wsClosed(service string, d time.Duration) {
	if m != nil {
		m.wsConnectionDuration.WithLabelValues(service).Observe(d.Seconds())
	}
}
