package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/middleware"
)

// proxyMethods are the methods accepted on /api routes.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

func (s *Server) setupRoutes() {
	metricsPath := s.metricsPath()
	internalPaths := []string{"/admin", "/admin/stats"}
	if metricsPath != "" {
		internalPaths = append(internalPaths, metricsPath)
	}

	s.engine.HandleMethodNotAllowed = true
	s.engine.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Tracing(s.cfg.Observability.Tracing.ServiceName, metricsPath),
		middleware.Metrics(s.deps.Metrics, metricsPath),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:          s.logger,
			SkipPaths:       []string{metricsPath},
			SkipHealthCheck: true,
		}),
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:   s.deps.RateLimiter,
			Metrics:   s.deps.Metrics,
			Logger:    s.logger,
			SkipPaths: internalPaths,
		}),
	)
	if s.cfg.Server.MaxBodySize > 0 {
		s.engine.Use(s.maxRequestBodySizeMiddleware())
	}

	s.deps.Checker.RegisterRoutes(s.engine)
	if metricsPath != "" {
		s.engine.GET(metricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	auth := middleware.Auth(s.deps.Auth)

	s.engine.Match(proxyMethods, "/api/:service/*path", auth, s.handleAPI)

	sse := s.engine.Group("/sse", auth)
	sse.GET("/:service/*path", s.handleSSE)
	sse.HEAD("/:service/*path", s.handleSSE)

	s.engine.GET("/ws/:service", auth, s.handleWebSocket)

	admin := s.engine.Group("/admin", auth)
	admin.GET("", s.handleDashboard)
	admin.GET("/stats", s.handleStats)

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, CodeNotFound, "Route "+c.Request.Method+" "+c.Request.URL.Path+" not found")
	})
	s.engine.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method "+c.Request.Method+" not allowed")
	})
}

// metricsPath returns the path of the metrics endpoint, or "" when it is
// disabled.
func (s *Server) metricsPath() string {
	if !s.cfg.Observability.Metrics.Enabled || s.deps.Metrics == nil {
		return ""
	}
	return s.cfg.Observability.Metrics.Path
}
