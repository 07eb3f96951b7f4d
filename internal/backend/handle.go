package backend

import (
	"net/http"
	"time"
)

// RequestContext tracks one HTTP or SSE exchange against an upstream.
// It must be finished exactly once; further calls are ignored.
type RequestContext struct {
	registry *Registry
	upstream *upstream
	protocol Protocol
	finished bool
}

// Finish releases the in-flight slot and records the outcome. A status
// of 500 or above counts as a failure. Latency is recorded only when it
// is non-negative; pass NoLatency when none was measured.
func (rc *RequestContext) Finish(statusCode int, latency time.Duration) {
	r := rc.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if rc.finished {
		return
	}
	rc.finished = true

	u := rc.upstream
	now := r.now()
	u.release(rc.protocol)
	u.sampleRPS(now)

	if latency >= 0 {
		u.observeLatency(float64(latency) / float64(time.Millisecond))
	}

	if statusCode >= http.StatusInternalServerError {
		r.failureLocked(u, now)
		return
	}
	r.successLocked(u, now)
}

// Release frees the in-flight slot without recording an outcome. It is
// used when the exchange ended for reasons unrelated to the upstream,
// such as a client disconnect. Release and Finish share one guard.
func (rc *RequestContext) Release() {
	r := rc.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if rc.finished {
		return
	}
	rc.finished = true

	rc.upstream.release(rc.protocol)
	rc.upstream.sampleRPS(r.now())
}

// URL returns the upstream base URL being tracked.
func (rc *RequestContext) URL() string {
	return rc.upstream.url
}

// WebSocketContext tracks one bridged WebSocket connection.
type WebSocketContext struct {
	registry *Registry
	upstream *upstream
	closed   bool
}

// MarkUpstreamOpen records a successful upstream handshake. It closes a
// tripped circuit.
func (wc *WebSocketContext) MarkUpstreamOpen() {
	r := wc.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successLocked(wc.upstream, r.now())
}

// MarkUpstreamError records an upstream handshake or transport failure.
func (wc *WebSocketContext) MarkUpstreamError() {
	r := wc.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.failureLocked(wc.upstream, now)
	wc.upstream.sampleRPS(now)
}

// Close releases the in-flight slot. It is idempotent.
func (wc *WebSocketContext) Close() {
	r := wc.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if wc.closed {
		return
	}
	wc.closed = true
	wc.upstream.release(ProtocolWebSocket)
}

// URL returns the upstream base URL being tracked.
func (wc *WebSocketContext) URL() string {
	return wc.upstream.url
}
