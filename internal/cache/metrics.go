package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Eviction reasons.
const (
	evictCapacity = "capacity"
	evictExpired  = "expired"
)

// Metrics holds response cache metrics.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	errors    *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

// NewMetrics creates cache metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"backend"},
		),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"backend"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of cache evictions",
			},
			[]string{"backend", "reason"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of cache backend errors",
			},
			[]string{"backend", "operation"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Current number of cache entries",
			},
			[]string{"backend"},
		),
	}
}

// MustRegister registers all cache metrics with the given registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.hits,
		m.misses,
		m.evictions,
		m.errors,
		m.entries,
	)
}

func (m *Metrics) hit(backend string) {
	if m != nil {
		m.hits.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) miss(backend string) {
	if m != nil {
		m.misses.WithLabelValues(backend).Inc()
	}
}

func (m *Metrics) evicted(backend, reason string) {
	if m != nil {
		m.evictions.WithLabelValues(backend, reason).Inc()
	}
}

func (m *Metrics) failed(backend, operation string) {
	if m != nil {
		m.errors.WithLabelValues(backend, operation).Inc()
	}
}

func (m *Metrics) size(backend string, n int) {
	if m != nil {
		m.entries.WithLabelValues(backend).Set(float64(n))
	}
}
