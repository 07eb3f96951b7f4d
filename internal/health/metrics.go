package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	checkTypeLiveness  = "liveness"
	checkTypeReadiness = "readiness"
	checkOverall       = "overall"
)

// Metrics holds Prometheus metrics for health checks. A nil *Metrics
// records nothing.
type Metrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates the health metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health checks performed",
			},
			[]string{"type"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current health check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}

	for _, checkType := range []string{checkTypeLiveness, checkTypeReadiness} {
		m.checksTotal.WithLabelValues(checkType)
	}
	return m
}

// MustRegister registers all health metric collectors with registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(m.checksTotal, m.checkStatus)
}

func (m *Metrics) checked(checkType string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(checkType).Inc()
}

func (m *Metrics) status(check string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.checkStatus.WithLabelValues(check).Set(value)
}
