package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/streamgw/internal/backend"
	"github.com/vyrodovalexey/streamgw/internal/cache"
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/health"
	"github.com/vyrodovalexey/streamgw/internal/middleware"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/server"
)

const metricsNamespace = "gateway"

// application holds all application components.
type application struct {
	config        *config.GatewayConfig
	server        *server.Server
	registry      *backend.Registry
	cache         cache.ResponseCache
	checker       *health.Checker
	rateLimiter   *middleware.RateLimiter
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	reloadMetrics *reloadMetrics
}

// initApplication initializes all application components. It returns
// nil after a fatal error.
func initApplication(cfg *config.GatewayConfig, logger observability.Logger) *application {
	metrics := observability.NewMetrics(metricsNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer := initTracer(cfg, logger)
	if tracer == nil {
		return nil
	}

	proxyMetrics := proxy.NewMetrics(metricsNamespace)
	registry := backend.NewRegistry(backend.ServiceTable(cfg.Upstreams),
		backend.WithRegistryLogger(logger),
		backend.WithEnvironment(cfg.Env),
		backend.WithFailOpenHook(proxyMetrics.RecordFailOpen),
	)

	healthMetrics := health.NewMetrics(metricsNamespace)
	registerSubsystemMetrics(metrics, logger,
		backend.NewCollector(registry),
		proxyMetrics,
		healthMetrics,
	)

	checker := health.NewChecker(version,
		health.WithUpstreamCount(registry.Services),
		health.WithMetrics(healthMetrics),
	)

	responseCache, err := initCache(cfg, metrics, checker, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize cache", observability.Error(err))
		return nil
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, middleware.WithRateLimiterLogger(logger))

	srv, err := server.New(cfg, server.Dependencies{
		Registry:     registry,
		Cache:        responseCache,
		Checker:      checker,
		Auth:         initAuthenticator(cfg, metrics, logger),
		RateLimiter:  rateLimiter,
		Metrics:      metrics,
		ProxyMetrics: proxyMetrics,
		Version:      version,
	}, logger)
	if err != nil {
		fatalWithSync(logger, "failed to create server", observability.Error(err))
		return nil
	}

	logger.Info("application initialized",
		observability.Int("services", registry.Services()),
		observability.Bool("cache", responseCache != nil),
		observability.Bool("auth_required", cfg.AuthRequired()),
		observability.Bool("rate_limit", rateLimiter.Enabled()),
	)

	return &application{
		config:        cfg,
		server:        srv,
		registry:      registry,
		cache:         responseCache,
		checker:       checker,
		rateLimiter:   rateLimiter,
		metrics:       metrics,
		tracer:        tracer,
		reloadMetrics: newReloadMetrics(metrics),
	}
}

// metricsRegistrar is implemented by subsystem metric sets.
type metricsRegistrar interface {
	MustRegister(registry prometheus.Registerer)
}

// registerSubsystemMetrics adds subsystem collectors to the registry
// behind /metrics. Plain collectors are registered leniently so a
// duplicate is logged rather than fatal.
func registerSubsystemMetrics(metrics *observability.Metrics, logger observability.Logger, sets ...any) {
	for _, set := range sets {
		switch s := set.(type) {
		case metricsRegistrar:
			s.MustRegister(metrics.Registry())
		case prometheus.Collector:
			if err := metrics.RegisterCollector(s); err != nil {
				logger.Warn("failed to register collector", observability.Error(err))
			}
		}
	}
}

// initCache builds the response cache, or returns nil when caching is
// disabled. A Redis cache is added to readiness as a non-critical check.
func initCache(
	cfg *config.GatewayConfig,
	metrics *observability.Metrics,
	checker *health.Checker,
	logger observability.Logger,
) (cache.ResponseCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	cacheMetrics := cache.NewMetrics(metricsNamespace)
	cacheMetrics.MustRegister(metrics.Registry())

	c, err := cache.New(&cfg.Cache,
		cache.WithLogger(logger),
		cache.WithMetrics(cacheMetrics),
	)
	if err != nil {
		return nil, err
	}

	if pinger, ok := c.(health.Pinger); ok {
		checker.Register(health.PingCheck("cache", pinger, false))
	}

	logger.Info("response cache enabled",
		observability.String("type", cfg.Cache.Type),
		observability.Duration("ttl", cfg.Cache.TTL.Duration()),
		observability.Int64("max_body_bytes", cfg.Cache.MaxBodyBytes),
	)
	return c, nil
}

// initAuthenticator returns nil when no secret is configured and auth is
// optional; every request then passes unauthenticated.
func initAuthenticator(
	cfg *config.GatewayConfig,
	metrics *observability.Metrics,
	logger observability.Logger,
) *middleware.Authenticator {
	required := cfg.AuthRequired()
	if cfg.Auth.JWTSecret == "" && !required {
		return nil
	}
	return middleware.NewAuthenticator(cfg.Auth.JWTSecret, required,
		middleware.WithAuthLogger(logger),
		middleware.WithAuthMetrics(metrics),
	)
}
