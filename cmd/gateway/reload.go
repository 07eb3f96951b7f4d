package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	configReloadTotal          *prometheus.CounterVec
	configReloadLastSuccess    prometheus.Gauge
	configWatcherStatus        prometheus.Gauge
	configReloadComponentTotal *prometheus.CounterVec
}

// newReloadMetrics creates reload metrics and registers them with the
// registry behind /metrics.
func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	rm := &reloadMetrics{
		configReloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		configReloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		configWatcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
		configReloadComponentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_component_total",
				Help:      "Total number of component reloads by component and result",
			},
			[]string{"component", "result"},
		),
	}

	for _, c := range []prometheus.Collector{
		rm.configReloadTotal,
		rm.configReloadLastSuccess,
		rm.configWatcherStatus,
		rm.configReloadComponentTotal,
	} {
		_ = m.RegisterCollector(c)
	}
	return rm
}

// startConfigWatcher watches configPath and applies reloads. It returns
// nil when there is no file to watch or the watcher cannot start.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, app.config,
		func(previous, current *config.GatewayConfig) {
			reloadComponents(app, previous, current, logger)
		},
		config.WithWatcherLogger(logger),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		app.reloadMetrics.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		app.reloadMetrics.configWatcherStatus.Set(0)
		_ = watcher.Stop()
		return nil
	}

	app.reloadMetrics.configWatcherStatus.Set(1)
	return watcher
}

// reloadComponents applies the parts of a new configuration that can
// change at runtime: the log level and the rate limit. The upstream
// table and the remaining sections are fixed for the life of the
// process; changes to them are reported and require a restart.
func reloadComponents(
	app *application,
	previous, current *config.GatewayConfig,
	logger observability.Logger,
) {
	rm := app.reloadMetrics

	if previous.Logging.Level != current.Logging.Level {
		if setter, ok := logger.(observability.LevelSetter); ok {
			if err := setter.SetLevel(current.Logging.Level); err != nil {
				logger.Error("failed to change log level", observability.Error(err))
				rm.configReloadComponentTotal.WithLabelValues("log_level", "error").Inc()
				rm.configReloadTotal.WithLabelValues("error").Inc()
				return
			}
			logger.Info("log level changed",
				observability.String("from", previous.Logging.Level),
				observability.String("to", current.Logging.Level),
			)
			rm.configReloadComponentTotal.WithLabelValues("log_level", "success").Inc()
		}
	}

	if app.rateLimiter != nil && configSectionChanged(previous.RateLimit, current.RateLimit) {
		app.rateLimiter.SetLimits(current.RateLimit)
		rm.configReloadComponentTotal.WithLabelValues("rate_limiter", "success").Inc()
	}

	if configSectionChanged(previous.Upstreams, current.Upstreams) {
		logger.Warn("upstream table has changed but is NOT hot-reloaded; "+
			"restart the gateway to apply upstream changes",
			observability.Int("old_services", len(previous.Upstreams)),
			observability.Int("new_services", len(current.Upstreams)),
		)
	}

	for _, section := range restartOnlySections(previous, current) {
		logger.Warn("configuration section has changed but is NOT hot-reloaded; "+
			"restart the gateway to apply it",
			observability.String("section", section),
		)
	}

	app.config = current

	rm.configReloadTotal.WithLabelValues("success").Inc()
	rm.configReloadLastSuccess.SetToCurrentTime()
}

// restartOnlySections lists changed sections that only take effect on
// restart.
func restartOnlySections(previous, current *config.GatewayConfig) []string {
	var changed []string
	if previous.Env != current.Env {
		changed = append(changed, "env")
	}
	if configSectionChanged(previous.Server, current.Server) {
		changed = append(changed, "server")
	}
	// The secret is not serialized, so auth is compared directly.
	if !reflect.DeepEqual(previous.Auth, current.Auth) {
		changed = append(changed, "auth")
	}
	if configSectionChanged(previous.Proxy, current.Proxy) {
		changed = append(changed, "proxy")
	}
	if configSectionChanged(previous.Cache, current.Cache) {
		changed = append(changed, "cache")
	}
	if configSectionChanged(previous.WebSocket, current.WebSocket) {
		changed = append(changed, "websocket")
	}
	if configSectionChanged(previous.Observability, current.Observability) {
		changed = append(changed, "observability")
	}
	return changed
}

// configSectionHash computes a SHA-256 hash of a configuration section.
func configSectionHash(v any) ([sha256.Size]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}

// configSectionChanged compares two configuration sections by hash,
// falling back to reflect.DeepEqual when hashing fails.
func configSectionChanged(oldSection, newSection any) bool {
	oldHash, oldOK := configSectionHash(oldSection)
	newHash, newOK := configSectionHash(newSection)
	if oldOK && newOK {
		return oldHash != newHash
	}
	return !reflect.DeepEqual(oldSection, newSection)
}
