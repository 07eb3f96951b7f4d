package backend

import (
	"strings"
	"time"
)

// Circuit and scoring parameters.
const (
	// FailureThreshold is the number of failures inside FailureWindow
	// that opens a circuit.
	FailureThreshold = 5

	// FailureWindow is the trailing window failures are counted in.
	FailureWindow = 10 * time.Second

	// CircuitOpenDuration is how long an opened circuit stays open.
	CircuitOpenDuration = 15 * time.Second

	// LatencyAlpha is the EWMA smoothing factor for upstream latency.
	LatencyAlpha = 0.2

	// inflightWeight makes one in-flight request outweigh any plausible
	// latency difference.
	inflightWeight = 1000
)

// Protocol identifies the kind of traffic an upstream is serving.
type Protocol int

const (
	// ProtocolHTTP is a plain request/response exchange.
	ProtocolHTTP Protocol = iota
	// ProtocolSSE is a long-lived event stream.
	ProtocolSSE
	// ProtocolWebSocket is a bridged WebSocket connection.
	ProtocolWebSocket

	protocolCount
)

// String returns the string representation of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolSSE:
		return "sse"
	case ProtocolWebSocket:
		return "ws"
	default:
		return "unknown"
	}
}

// normalizeBaseURL strips one trailing slash.
func normalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}

// upstream is the mutable runtime record of one (service, url) pair.
// All fields are guarded by the owning Registry's mutex.
type upstream struct {
	service string
	url     string

	inflight      [protocolCount]int64
	requestsTotal int64
	errorsTotal   int64

	lastLatencyMs  float64
	hasLastLatency bool
	ewmaLatencyMs  float64
	hasEWMA        bool

	rps                   float64
	lastRPSSampleAt       time.Time
	lastRPSSampleRequests int64

	failures         []time.Time
	circuitOpenUntil time.Time
}

func newUpstream(service, url string, now time.Time) *upstream {
	return &upstream{
		service:         service,
		url:             url,
		lastRPSSampleAt: now,
	}
}

func (u *upstream) totalInflight() int64 {
	var n int64
	for _, v := range u.inflight {
		n += v
	}
	return n
}

// latency returns the EWMA, falling back to the last observation.
func (u *upstream) latency() (float64, bool) {
	switch {
	case u.hasEWMA:
		return u.ewmaLatencyMs, true
	case u.hasLastLatency:
		return u.lastLatencyMs, true
	default:
		return 0, false
	}
}

func (u *upstream) score() float64 {
	latency, _ := u.latency()
	return float64(u.totalInflight())*inflightWeight + latency
}

func (u *upstream) begin(p Protocol, now time.Time) {
	u.inflight[p]++
	u.requestsTotal++
	u.sampleRPS(now)
}

func (u *upstream) release(p Protocol) {
	if u.inflight[p] > 0 {
		u.inflight[p]--
	}
}

// sampleRPS derives the request rate from the requests seen since the
// previous sample. Samples less than a millisecond apart are skipped.
func (u *upstream) sampleRPS(now time.Time) {
	elapsedMs := now.Sub(u.lastRPSSampleAt).Milliseconds()
	if elapsedMs <= 0 {
		return
	}
	delta := u.requestsTotal - u.lastRPSSampleRequests
	u.rps = float64(delta) * 1000 / float64(elapsedMs)
	u.lastRPSSampleAt = now
	u.lastRPSSampleRequests = u.requestsTotal
}

func (u *upstream) observeLatency(ms float64) {
	u.lastLatencyMs = ms
	u.hasLastLatency = true
	if !u.hasEWMA {
		u.ewmaLatencyMs = ms
		u.hasEWMA = true
		return
	}
	u.ewmaLatencyMs = u.ewmaLatencyMs*(1-LatencyAlpha) + ms*LatencyAlpha
}

func (u *upstream) isOpen(now time.Time) bool {
	return u.circuitOpenUntil.After(now)
}

// trimFailures drops failures older than the window.
func (u *upstream) trimFailures(now time.Time) {
	cutoff := now.Add(-FailureWindow)
	i := 0
	for i < len(u.failures) && u.failures[i].Before(cutoff) {
		i++
	}
	u.failures = u.failures[i:]
}

// recordFailure reports whether this failure opened the circuit.
func (u *upstream) recordFailure(now time.Time) bool {
	u.errorsTotal++
	u.trimFailures(now)
	u.failures = append(u.failures, now)
	if len(u.failures) < FailureThreshold {
		return false
	}
	u.circuitOpenUntil = now.Add(CircuitOpenDuration)
	u.failures = nil
	return true
}

// recordSuccess clears a tripped circuit and reports whether it did.
func (u *upstream) recordSuccess() bool {
	if u.circuitOpenUntil.IsZero() {
		return false
	}
	u.failures = nil
	u.circuitOpenUntil = time.Time{}
	return true
}
