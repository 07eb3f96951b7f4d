package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/streamgw/internal/backend"
	"github.com/vyrodovalexey/streamgw/internal/cache"
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/health"
	"github.com/vyrodovalexey/streamgw/internal/middleware"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Dependencies are the collaborators the routes use. Registry is
// required; Proxy, Bridge and Checker get defaults built from the
// configuration when nil. A nil Cache disables response caching, nil
// Auth disables authentication and nil RateLimiter disables rate
// limiting.
type Dependencies struct {
	Registry     *backend.Registry
	Proxy        *proxy.Proxy
	Bridge       *proxy.Bridge
	Cache        cache.ResponseCache
	CacheMetrics *cache.Metrics
	Checker      *health.Checker
	Auth         *middleware.Authenticator
	RateLimiter  *middleware.RateLimiter
	Metrics      *observability.Metrics
	ProxyMetrics *proxy.Metrics
	Version      string
}

// Server is the gateway's HTTP server.
type Server struct {
	cfg        *config.GatewayConfig
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     observability.Logger

	// sessionCtx is cancelled on shutdown to close bridged WebSockets,
	// which net/http no longer tracks once hijacked.
	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	sessions       sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// New creates the server and registers every route.
func New(cfg *config.GatewayConfig, deps Dependencies, logger observability.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: configuration is required")
	}
	if deps.Registry == nil {
		return nil, ErrNoRegistry
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if deps.Proxy == nil {
		deps.Proxy = proxy.New(
			proxy.WithLogger(logger),
			proxy.WithMetrics(deps.ProxyMetrics),
		)
	}
	if deps.Bridge == nil {
		opts := []proxy.BridgeOption{
			proxy.WithBridgeLogger(logger),
			proxy.WithBridgeMetrics(deps.ProxyMetrics),
		}
		if deps.Metrics != nil {
			opts = append(opts, proxy.WithObserver(deps.Metrics))
		}
		deps.Bridge = proxy.NewBridge(deps.Registry, BridgeConfig(&cfg.WebSocket), opts...)
	}
	if deps.Checker == nil {
		deps.Checker = health.NewChecker(deps.Version, health.WithUpstreamCount(deps.Registry.Services))
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout.Duration(),
			// Browsers on any origin may connect; access is governed by auth.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:         logger,
		sessionCtx:     sessionCtx,
		cancelSessions: cancel,
	}

	s.setupRoutes()
	return s, nil
}

// BridgeConfig converts the WebSocket configuration for the bridge.
func BridgeConfig(cfg *config.WebSocketConfig) proxy.BridgeConfig {
	return proxy.BridgeConfig{
		MaxBufferedBytes: cfg.MaxBufferedBytes,
		PingInterval:     cfg.PingInterval.Duration(),
		PongTimeout:      cfg.PongTimeout.Duration(),
		HandshakeTimeout: cfg.HandshakeTimeout.Duration(),
	}
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Address(), err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout.Duration(),
		IdleTimeout:       s.cfg.Server.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}
	s.running = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", listener.Addr().String()),
		observability.Int("services", s.deps.Registry.Services()),
	)

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown closes bridged WebSockets with 1001, then drains in-flight
// requests until ctx expires. Streams still open at the deadline are
// cut.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelSessions()

	s.mu.Lock()
	httpServer := s.httpServer
	running := s.running
	s.running = false
	s.mu.Unlock()

	var err error
	if running && httpServer != nil {
		s.logger.Info("stopping HTTP server")
		if err = httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown incomplete, closing remaining connections",
				observability.Error(err))
			_ = httpServer.Close()
			err = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server stopped")
	return err
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// maxRequestBodySizeMiddleware limits request body size. A declared
// length over the limit is rejected before any upstream is picked;
// chunked bodies are cut off while they stream.
func (s *Server) maxRequestBodySizeMiddleware() gin.HandlerFunc {
	limit := s.cfg.Server.MaxBodySize
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			writeProxyError(c, proxy.ErrRequestTooLarge)
			return
		}
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
