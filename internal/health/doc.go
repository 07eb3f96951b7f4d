// Package health implements the gateway's liveness and readiness probes.
//
// Liveness always reports ok while the process serves requests.
// Readiness runs the registered dependency checks: a failing critical
// check makes the gateway unready (503), a failing non-critical check
// only degrades it.
//
//	checker := health.NewChecker(version,
//	    health.WithUpstreamCount(registry.Services),
//	)
//	checker.Register(health.PingCheck("cache", redisCache, false))
//
//	engine.GET("/healthz", checker.LivenessHandler())
//	engine.GET("/readyz", checker.ReadinessHandler())
package health
