package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/streamgw/internal/backend"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// Close reasons sent with WebSocket close frames.
const (
	CloseReasonUnknownService = "unknown_service"
	CloseReasonBackpressure   = "backpressure"
	CloseReasonUpstreamError  = "upstream_error"
	CloseReasonClientClosed   = "client_closed"
	CloseReasonUpstreamClosed = "upstream_closed"
	CloseReasonShutdown       = "shutting_down"
	CloseReasonPongTimeout    = "pong_timeout"
	closeReasonInvalidPath    = "invalid_path"
)

const (
	writeWait = 10 * time.Second
	// closeWait bounds the close frame write; a peer that stopped reading
	// must not hold up teardown.
	closeWait = time.Second
)

// BridgeConfig configures the WebSocket bridge.
type BridgeConfig struct {
	// MaxBufferedBytes bounds the unsent bytes queued for either socket.
	MaxBufferedBytes int64
	// PingInterval is the period of pings sent to the client.
	PingInterval time.Duration
	// PongTimeout closes the client when no pong arrives within
	// PingInterval+PongTimeout. Zero disables the check.
	PongTimeout time.Duration
	// HandshakeTimeout bounds the upstream handshake.
	HandshakeTimeout time.Duration
}

// BridgeRequest carries the per-connection inputs of Serve.
type BridgeRequest struct {
	Service       string
	Path          string
	Authorization string
	RequestID     string
}

// ConnectionObserver is told when a client connection starts and ends.
type ConnectionObserver interface {
	WebSocketOpened()
	WebSocketClosed()
}

type nopObserver struct{}

func (nopObserver) WebSocketOpened() {}
func (nopObserver) WebSocketClosed() {}

// Bridge relays WebSocket messages between clients and upstreams.
type Bridge struct {
	registry *backend.Registry
	cfg      BridgeConfig
	dialer   *websocket.Dialer
	observer ConnectionObserver
	logger   observability.Logger
	metrics  *Metrics
}

// BridgeOption is a functional option for configuring the bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger for the bridge.
func WithBridgeLogger(logger observability.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithObserver sets the connection observer.
func WithObserver(observer ConnectionObserver) BridgeOption {
	return func(b *Bridge) {
		b.observer = observer
	}
}

// WithBridgeMetrics sets the bridge metrics.
func WithBridgeMetrics(m *Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithDialer replaces the upstream dialer.
func WithDialer(dialer *websocket.Dialer) BridgeOption {
	return func(b *Bridge) {
		b.dialer = dialer
	}
}

// NewBridge creates a bridge that picks upstreams from registry.
func NewBridge(registry *backend.Registry, cfg BridgeConfig, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		registry: registry,
		cfg:      cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		observer: nopObserver{},
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Serve bridges an accepted client connection until either side closes.
// It always closes client. The returned error is nil for orderly closes
// and wraps ErrUnknownService, ErrBackpressure or ErrUpstreamUnavailable
// otherwise.
func (b *Bridge) Serve(ctx context.Context, client *websocket.Conn, req BridgeRequest) error {
	b.observer.WebSocketOpened()

	logger := b.logger.WithContext(ctx).With(observability.String("service", req.Service))

	base, ok := b.registry.Pick(req.Service)
	if !ok {
		closeConn(client, websocket.ClosePolicyViolation, CloseReasonUnknownService)
		b.observer.WebSocketClosed()
		return NewUnknownServiceError(req.Service)
	}

	target, err := WebSocketTarget(base, req.Path)
	if err != nil {
		logger.Warn("invalid websocket target", observability.Error(err))
		closeConn(client, websocket.ClosePolicyViolation, closeReasonInvalidPath)
		b.observer.WebSocketClosed()
		return err
	}

	header := http.Header{}
	if req.Authorization != "" {
		header.Set("Authorization", req.Authorization)
	}
	if req.RequestID != "" {
		header.Set(HeaderRequestID, req.RequestID)
	}
	observability.InjectTraceContext(ctx, header)

	s := &session{
		bridge:     b,
		service:    req.Service,
		target:     target,
		header:     header,
		client:     client,
		wsCtx:      b.registry.BeginWebSocket(req.Service, base),
		logger:     logger.With(observability.String("target", target)),
		toUpstream: newOutbox(),
		toClient:   newOutbox(),
		opened:     make(chan struct{}),
		started:    time.Now(),
	}
	b.metrics.wsConnected(req.Service)

	return s.run(ctx)
}

// closeError records why a session ended and the close frame to send.
type closeError struct {
	code   int
	reason string
	err    error
}

func (e *closeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("websocket closed (%d %s): %v", e.code, e.reason, e.err)
	}
	return fmt.Sprintf("websocket closed (%d %s)", e.code, e.reason)
}

func (e *closeError) Unwrap() error {
	return e.err
}

// session is one bridged connection pair.
type session struct {
	bridge  *Bridge
	service string
	target  string
	header  http.Header
	client  *websocket.Conn
	wsCtx   *backend.WebSocketContext
	logger  observability.Logger
	started time.Time

	toUpstream *outbox
	toClient   *outbox
	opened     chan struct{}
	isOpen     atomic.Bool

	mu         sync.Mutex
	upstream   *websocket.Conn
	terminated bool
	cause      *closeError

	once sync.Once
}

func (s *session) run(parent context.Context) error {
	s.setupPongTimeout()

	g, gctx := errgroup.WithContext(parent)
	g.Go(s.readClient)
	g.Go(func() error { return s.writeClient(gctx) })
	g.Go(func() error { return s.connectUpstream(gctx) })
	g.Go(func() error { return s.writeUpstream(gctx) })
	g.Go(func() error { return s.ping(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.terminate(parent)
		return nil
	})

	var ce *closeError
	if err := g.Wait(); errors.As(err, &ce) && ce.err != nil {
		return ce.err
	}
	return nil
}

// fail records the first close cause and returns it.
func (s *session) fail(code int, reason string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = &closeError{code: code, reason: reason, err: err}
	}
	return s.cause
}

func (s *session) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *session) setupPongTimeout() {
	timeout := s.bridge.cfg.PongTimeout
	if timeout <= 0 || s.bridge.cfg.PingInterval <= 0 {
		return
	}
	window := s.bridge.cfg.PingInterval + timeout
	_ = s.client.SetReadDeadline(time.Now().Add(window))
	s.client.SetPongHandler(func(string) error {
		return s.client.SetReadDeadline(time.Now().Add(window))
	})
}

func (s *session) readClient() error {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			if s.isTerminated() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return s.fail(websocket.CloseGoingAway, CloseReasonPongTimeout, nil)
			}
			return s.fail(websocket.CloseNormalClosure, CloseReasonClientClosed, nil)
		}

		msg, ok := messageFromFrame(messageType, data)
		if !ok {
			continue
		}
		s.bridge.metrics.wsMessage(s.service, directionToUpstream)
		if err := s.relay(s.toUpstream, msg, !s.isOpen.Load()); err != nil {
			return err
		}
	}
}

func (s *session) writeClient(ctx context.Context) error {
	err := s.toClient.drain(ctx, func(m Message) error {
		return writeMessage(s.client, m)
	})
	if err != nil && !s.isTerminated() {
		return s.fail(websocket.CloseNormalClosure, CloseReasonClientClosed, nil)
	}
	return nil
}

func (s *session) connectUpstream(ctx context.Context) error {
	conn, resp, err := s.bridge.dialer.DialContext(ctx, s.target, s.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.upstreamFailed(err, errorTypeDial)
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.upstream = conn
	s.mu.Unlock()

	s.wsCtx.MarkUpstreamOpen()
	s.isOpen.Store(true)
	close(s.opened)
	s.logger.Debug("upstream websocket open")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if s.isTerminated() {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return s.fail(websocket.CloseNormalClosure, CloseReasonUpstreamClosed, nil)
			}
			return s.upstreamFailed(err, errorTypeUpstream)
		}

		msg, ok := messageFromFrame(messageType, data)
		if !ok {
			continue
		}
		s.bridge.metrics.wsMessage(s.service, directionToClient)
		if err := s.relay(s.toClient, msg, false); err != nil {
			return err
		}
	}
}

func (s *session) writeUpstream(ctx context.Context) error {
	select {
	case <-s.opened:
	case <-ctx.Done():
		return nil
	}

	s.mu.Lock()
	conn := s.upstream
	s.mu.Unlock()

	err := s.toUpstream.drain(ctx, func(m Message) error {
		return writeMessage(conn, m)
	})
	if err != nil {
		return s.upstreamFailed(err, errorTypeUpstream)
	}
	return nil
}

func (s *session) ping(ctx context.Context) error {
	interval := s.bridge.cfg.PingInterval
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !s.isTerminated() {
				return s.fail(websocket.CloseNormalClosure, CloseReasonClientClosed, nil)
			}
		}
	}
}

// relay queues msg for a socket unless that socket is already too far
// behind. Before the upstream opens the queued bytes plus msg must fit
// the limit; afterwards the bytes already queued must.
func (s *session) relay(ob *outbox, msg Message, preOpen bool) error {
	limit := s.bridge.cfg.MaxBufferedBytes
	pending := ob.Pending()

	over := pending > limit
	if preOpen {
		over = pending+int64(msg.Len()) > limit
	}
	if over {
		s.bridge.metrics.wsError(s.service, errorTypeBackpressure)
		s.logger.Warn("websocket backpressure limit exceeded",
			observability.Int64("pending_bytes", pending),
			observability.Int64("limit_bytes", limit),
		)
		return s.fail(websocket.CloseTryAgainLater, CloseReasonBackpressure, &ProxyError{
			Op:      "websocket_relay",
			Service: s.service,
			Target:  s.target,
			Message: "peer too far behind",
			Cause:   ErrBackpressure,
		})
	}

	ob.push(msg)
	return nil
}

func (s *session) upstreamFailed(err error, errorType string) error {
	if s.isTerminated() {
		return nil
	}
	s.wsCtx.MarkUpstreamError()
	s.bridge.metrics.wsError(s.service, errorType)
	s.logger.Warn("upstream websocket failed", observability.Error(err))
	return s.fail(websocket.CloseInternalServerErr, CloseReasonUpstreamError, &ProxyError{
		Op:      "websocket_upstream",
		Service: s.service,
		Target:  s.target,
		Message: "upstream websocket failed",
		Cause:   fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err),
	})
}

// terminate closes both sockets once with the recorded cause. Without a
// cause the parent context ended, which is reported as going away.
func (s *session) terminate(parent context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		s.terminated = true
		if s.cause == nil {
			if parent.Err() != nil {
				s.cause = &closeError{code: websocket.CloseGoingAway, reason: CloseReasonShutdown}
			} else {
				s.cause = &closeError{code: websocket.CloseNormalClosure}
			}
		}
		cause := s.cause
		upstream := s.upstream
		s.mu.Unlock()

		s.bridge.observer.WebSocketClosed()
		s.wsCtx.Close()

		closeConn(s.client, cause.code, cause.reason)
		if upstream != nil {
			closeConn(upstream, cause.code, cause.reason)
		}

		s.bridge.metrics.wsClosed(s.service, time.Since(s.started))
		s.logger.Debug("websocket bridge closed",
			observability.Int("code", cause.code),
			observability.String("reason", cause.reason),
			observability.Duration("duration", time.Since(s.started)),
		)
	})
}

func writeMessage(conn *websocket.Conn, m Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	messageType, data := m.frame()
	return conn.WriteMessage(messageType, data)
}

// closeConn sends a close frame and closes the connection.
func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	_ = conn.Close()
}
