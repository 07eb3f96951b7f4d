// Package middleware provides the gin middleware chain of the gateway.
//
// The chain installed by the server is, in order:
//
//   - Recovery: turns panics into a JSON 500 response
//   - RequestID: reuses or generates the X-Request-ID value
//   - Tracing: starts a server span from the inbound trace context
//   - Metrics: records request counts and latency by route pattern
//   - Logging: access log, level chosen by status class
//   - RateLimit: per-client request budget
//
// Auth is installed per route group, not globally.
//
//	engine := gin.New()
//	engine.Use(
//	    middleware.Recovery(logger),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	)
package middleware
