package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/backend"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type countingObserver struct {
	opened atomic.Int64
	closed atomic.Int64
}

func (o *countingObserver) WebSocketOpened() { o.opened.Add(1) }
func (o *countingObserver) WebSocketClosed() { o.closed.Add(1) }

// echoUpstream echoes every message and records the handshake and the
// close code it receives.
type echoUpstream struct {
	server  *httptest.Server
	release chan struct{}

	mu        sync.Mutex
	header    http.Header
	path      string
	closeCode int
}

func newEchoUpstream(t *testing.T, holdHandshake bool) *echoUpstream {
	t.Helper()

	u := &echoUpstream{release: make(chan struct{})}
	if !holdHandshake {
		close(u.release)
	}

	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-u.release:
		case <-r.Context().Done():
			return
		}

		u.mu.Lock()
		u.header = r.Header.Clone()
		u.path = r.URL.RequestURI()
		u.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					u.mu.Lock()
					u.closeCode = ce.Code
					u.mu.Unlock()
				}
				return
			}
			if string(data) == "close-me" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *echoUpstream) recorded() (http.Header, string, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.header, u.path, u.closeCode
}

type gateway struct {
	server   *httptest.Server
	registry *backend.Registry
	observer *countingObserver
	results  chan error
}

func newGateway(t *testing.T, table backend.ServiceTable, cfg BridgeConfig, ctx context.Context) *gateway {
	t.Helper()

	g := &gateway{
		registry: backend.NewRegistry(table),
		observer: &countingObserver{},
		results:  make(chan error, 4),
	}
	bridge := NewBridge(g.registry, cfg, WithObserver(g.observer))

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serveCtx := r.Context()
		if ctx != nil {
			serveCtx = ctx
		}
		g.results <- bridge.Serve(serveCtx, conn, BridgeRequest{
			Service:       strings.TrimPrefix(r.URL.Path, "/ws/"),
			Path:          r.URL.Query().Get("path"),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get(HeaderRequestID),
		})
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(g.server.URL, "http")+path, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (g *gateway) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-g.results:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not finish")
		return nil
	}
}

func defaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		MaxBufferedBytes: 1 << 20,
		PingInterval:     time.Minute,
		HandshakeTimeout: 2 * time.Second,
	}
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce
	}
}

func TestBridge_RelaysMessagesBothWays(t *testing.T) {
	up := newEchoUpstream(t, false)
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, defaultBridgeConfig(), nil)

	header := http.Header{}
	header.Set("Authorization", "Bearer abc")
	header.Set(HeaderRequestID, "rid-1")
	client := g.dial(t, "/ws/echo?path=/room/7", header)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	mt, data, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{1, 2, 3}, data)

	seen, path, _ := up.recorded()
	assert.Equal(t, "Bearer abc", seen.Get("Authorization"))
	assert.Equal(t, "rid-1", seen.Get(HeaderRequestID))
	assert.Equal(t, "/room/7", path)

	snap := g.registry.Snapshot()
	assert.Equal(t, int64(1), snap.Connections.WS)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.NoError(t, g.result(t))
	assert.Eventually(t, func() bool {
		_, _, code := up.recorded()
		return code == websocket.CloseNormalClosure
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), g.observer.opened.Load())
	assert.Equal(t, int64(1), g.observer.closed.Load())
	assert.Equal(t, int64(0), g.registry.Snapshot().Connections.WS)
}

func TestBridge_UnknownService(t *testing.T) {
	g := newGateway(t, backend.ServiceTable{}, defaultBridgeConfig(), nil)
	client := g.dial(t, "/ws/ghost", nil)

	ce := readClose(t, client)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, CloseReasonUnknownService, ce.Text)

	assert.ErrorIs(t, g.result(t), ErrUnknownService)
	assert.Equal(t, int64(1), g.observer.opened.Load())
	assert.Equal(t, int64(1), g.observer.closed.Load())
}

func TestBridge_UpstreamUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	g := newGateway(t, backend.ServiceTable{"chat": {deadURL}}, defaultBridgeConfig(), nil)
	client := g.dial(t, "/ws/chat", nil)

	ce := readClose(t, client)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
	assert.Equal(t, CloseReasonUpstreamError, ce.Text)
	assert.ErrorIs(t, g.result(t), ErrUpstreamUnavailable)

	snap := g.registry.Snapshot()
	require.Len(t, snap.Services["chat"].UpstreamDetails, 1)
	assert.Equal(t, int64(1), snap.Services["chat"].UpstreamDetails[0].ErrorsTotal)
	assert.Equal(t, int64(0), snap.Connections.WS)
}

func TestBridge_UpstreamCloses(t *testing.T) {
	up := newEchoUpstream(t, false)
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, defaultBridgeConfig(), nil)
	client := g.dial(t, "/ws/echo", nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("close-me")))

	ce := readClose(t, client)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Equal(t, CloseReasonUpstreamClosed, ce.Text)
	assert.NoError(t, g.result(t))
}

func TestBridge_BackpressureBeforeOpen(t *testing.T) {
	up := newEchoUpstream(t, true)
	defer close(up.release)

	cfg := defaultBridgeConfig()
	cfg.MaxBufferedBytes = 8
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, cfg, nil)
	client := g.dial(t, "/ws/echo", nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("1234")))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("56789")))

	ce := readClose(t, client)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	assert.Equal(t, CloseReasonBackpressure, ce.Text)
	assert.ErrorIs(t, g.result(t), ErrBackpressure)
}

func TestBridge_BackpressureAfterOpen(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	firstRead := make(chan struct{})

	// The upstream reads one message and then stops reading.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		close(firstRead)
		<-stop
	}))
	t.Cleanup(upstream.Close)

	cfg := defaultBridgeConfig()
	cfg.MaxBufferedBytes = 64 << 10
	g := newGateway(t, backend.ServiceTable{"stalled": {upstream.URL}}, cfg, nil)
	client := g.dial(t, "/ws/stalled", nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	select {
	case <-firstRead:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream did not receive the first message")
	}

	// A single frame larger than the limit is accepted once the upstream
	// is open; the socket falling behind is what trips the limit.
	frame := make([]byte, 1<<20)
	go func() {
		for i := 0; i < 64; i++ {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}()

	ce := readClose(t, client)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	assert.Equal(t, CloseReasonBackpressure, ce.Text)
	assert.ErrorIs(t, g.result(t), ErrBackpressure)

	d := g.registry.Snapshot().Services["stalled"].UpstreamDetails[0]
	assert.Zero(t, d.Inflight.WS)
}

func TestBridge_FlushesQueuedMessagesOnOpen(t *testing.T) {
	up := newEchoUpstream(t, true)
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, defaultBridgeConfig(), nil)
	client := g.dial(t, "/ws/echo", nil)

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	close(up.release)

	for _, want := range []string{"a", "b", "c"} {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestBridge_ContextCancelledGoesAway(t *testing.T) {
	up := newEchoUpstream(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, defaultBridgeConfig(), ctx)
	client := g.dial(t, "/ws/echo", nil)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, _, err := client.ReadMessage()
	require.NoError(t, err)

	cancel()

	ce := readClose(t, client)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, CloseReasonShutdown, ce.Text)
	assert.NoError(t, g.result(t))
}

func TestBridge_PongTimeout(t *testing.T) {
	up := newEchoUpstream(t, false)

	cfg := defaultBridgeConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 20 * time.Millisecond
	g := newGateway(t, backend.ServiceTable{"echo": {up.server.URL}}, cfg, nil)
	client := g.dial(t, "/ws/echo", nil)

	// Pings are only answered while reading, so a client that never reads
	// never sends a pong.
	select {
	case err := <-g.results:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not close an unresponsive client")
	}
	_ = client
}
