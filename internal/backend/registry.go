package backend

import (
	"sync"
	"time"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// ServiceTable maps a logical service name to its upstream base URLs.
type ServiceTable map[string][]string

// NoLatency is passed to Finish when no upstream latency was measured.
const NoLatency time.Duration = -1

type upstreamKey struct {
	service string
	url     string
}

type serviceState struct {
	urls          []string
	cursor        uint64
	failOpenPicks int64
}

// Registry owns the runtime state of every upstream. It is safe for
// concurrent use; every operation is a short critical section.
type Registry struct {
	mu        sync.Mutex
	services  map[string]*serviceState
	upstreams map[upstreamKey]*upstream

	now        func() time.Time
	startedAt  time.Time
	env        string
	logger     observability.Logger
	onFailOpen func(service string)
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithEnvironment sets the deployment environment reported by Snapshot.
func WithEnvironment(env string) RegistryOption {
	return func(r *Registry) {
		r.env = env
	}
}

// WithFailOpenHook registers a callback invoked whenever Pick falls back
// to an upstream whose circuit is open.
func WithFailOpenHook(fn func(service string)) RegistryOption {
	return func(r *Registry) {
		r.onFailOpen = fn
	}
}

// NewRegistry creates a registry from the service table. URLs are
// normalized by stripping a trailing slash.
func NewRegistry(table ServiceTable, opts ...RegistryOption) *Registry {
	r := &Registry{
		services:  make(map[string]*serviceState, len(table)),
		upstreams: make(map[upstreamKey]*upstream),
		now:       time.Now,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.startedAt = r.now()

	for service, urls := range table {
		normalized := make([]string, 0, len(urls))
		for _, url := range urls {
			url = normalizeBaseURL(url)
			normalized = append(normalized, url)
			r.upstreams[upstreamKey{service, url}] = newUpstream(service, url, r.startedAt)
		}
		r.services[service] = &serviceState{urls: normalized}
	}

	return r
}

// List returns the configured upstream URLs of a service.
func (r *Registry) List(service string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return nil, false
	}
	out := make([]string, len(svc.urls))
	copy(out, svc.urls)
	return out, true
}

// Services returns the number of configured services.
func (r *Registry) Services() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// Pick selects the upstream for the next request to service. Upstreams
// with an open circuit are skipped unless every circuit is open, in
// which case all upstreams are considered. Among the lowest scores the
// per-service cursor breaks the tie.
func (r *Registry) Pick(service string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok || len(svc.urls) == 0 {
		return "", false
	}

	now := r.now()
	all := make([]*upstream, 0, len(svc.urls))
	pool := make([]*upstream, 0, len(svc.urls))
	for _, url := range svc.urls {
		u := r.getLocked(service, url)
		all = append(all, u)
		if !u.isOpen(now) {
			pool = append(pool, u)
		}
	}

	if len(pool) == 0 {
		pool = all
		svc.failOpenPicks++
		r.logger.Warn("all upstream circuits open, failing open",
			observability.String("service", service),
			observability.Int("upstreams", len(all)),
		)
		if r.onFailOpen != nil {
			r.onFailOpen(service)
		}
	}

	var best []*upstream
	var bestScore float64
	for _, u := range pool {
		score := u.score()
		switch {
		case len(best) == 0 || score < bestScore:
			bestScore = score
			best = append(best[:0], u)
		case score == bestScore:
			best = append(best, u)
		}
	}

	idx := svc.cursor % uint64(len(best))
	svc.cursor++
	return best[idx].url, true
}

// BeginHTTP starts tracking a request/response exchange.
func (r *Registry) BeginHTTP(service, url string) *RequestContext {
	return r.beginRequest(ProtocolHTTP, service, url)
}

// BeginSSE starts tracking an event stream.
func (r *Registry) BeginSSE(service, url string) *RequestContext {
	return r.beginRequest(ProtocolSSE, service, url)
}

func (r *Registry) beginRequest(p Protocol, service, url string) *RequestContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.getLocked(service, url)
	u.begin(p, r.now())
	return &RequestContext{registry: r, upstream: u, protocol: p}
}

// BeginWebSocket starts tracking a bridged WebSocket connection.
func (r *Registry) BeginWebSocket(service, url string) *WebSocketContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.getLocked(service, url)
	u.begin(ProtocolWebSocket, r.now())
	return &WebSocketContext{registry: r, upstream: u}
}

// getLocked returns the record for (service, url), creating an ad-hoc
// record for URLs outside the service table.
func (r *Registry) getLocked(service, url string) *upstream {
	url = normalizeBaseURL(url)
	key := upstreamKey{service, url}
	if u, ok := r.upstreams[key]; ok {
		return u
	}
	u := newUpstream(service, url, r.now())
	r.upstreams[key] = u
	return u
}

func (r *Registry) failureLocked(u *upstream, now time.Time) {
	if u.recordFailure(now) {
		r.logger.Warn("upstream circuit opened",
			observability.String("service", u.service),
			observability.String("upstream", u.url),
			observability.Time("open_until", u.circuitOpenUntil),
		)
	}
}

func (r *Registry) successLocked(u *upstream, now time.Time) {
	wasOpen := u.isOpen(now)
	if u.recordSuccess() && wasOpen {
		r.logger.Info("upstream circuit closed",
			observability.String("service", u.service),
			observability.String("upstream", u.url),
		)
	}
}
