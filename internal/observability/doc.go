// Package observability provides logging, metrics, and tracing
// for the gateway.
//
// # Logging
//
// The Logger interface wraps zap with a runtime-adjustable level:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("upstream picked",
//	    observability.String("service", "users"),
//	    observability.String("upstream", "http://10.0.0.1:8080"),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Other packages contribute
// collectors through RegisterCollector:
//
//	metrics := observability.NewMetrics("gateway")
//	metrics.RegisterCollector(backend.NewCollector(registry))
//	router.GET("/metrics", gin.WrapH(metrics.Handler()))
//
// # Tracing
//
// OpenTelemetry tracing with OTLP gRPC export. Trace context is
// propagated to upstreams with W3C traceparent headers.
package observability
