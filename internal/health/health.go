package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single readiness run.
const DefaultCheckTimeout = 2 * time.Second

// ErrNoUpstreams is reported when no service has an upstream configured.
var ErrNoUpstreams = errors.New("no upstream services configured")

// LivenessResponse is the body of the liveness probe.
type LivenessResponse struct {
	OK        bool      `json:"ok"`
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of the readiness probe.
type ReadinessResponse struct {
	OK               bool             `json:"ok"`
	Status           Status           `json:"status"`
	UpstreamServices int              `json:"upstreamServices"`
	Checks           map[string]Check `json:"checks,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// Check is the result of one dependency check.
type Check struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// DependencyCheck is a named readiness check.
type DependencyCheck struct {
	name     string
	checkFn  func(ctx context.Context) error
	critical bool
}

// NewDependencyCheck creates a dependency check. A critical check that
// fails makes the gateway unready.
func NewDependencyCheck(name string, critical bool, checkFn func(ctx context.Context) error) *DependencyCheck {
	return &DependencyCheck{name: name, checkFn: checkFn, critical: critical}
}

// Name returns the name of the dependency check.
func (d *DependencyCheck) Name() string {
	return d.name
}

// Pinger is implemented by dependencies that can be probed, such as the
// Redis response cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck creates a dependency check that pings p.
func PingCheck(name string, p Pinger, critical bool) *DependencyCheck {
	return NewDependencyCheck(name, critical, p.Ping)
}

// Checker provides health and readiness checking functionality.
type Checker struct {
	version       string
	startTime     time.Time
	timeout       time.Duration
	upstreamCount func() int
	metrics       *Metrics
	now           func() time.Time

	mu     sync.RWMutex
	checks map[string]*DependencyCheck
}

// Option is a functional option for configuring the checker.
type Option func(*Checker)

// WithUpstreamCount sets the function reporting the number of
// configured services. Zero services degrade readiness.
func WithUpstreamCount(fn func() int) Option {
	return func(c *Checker) {
		c.upstreamCount = fn
	}
}

// WithMetrics sets the metrics recorded for each check.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithCheckTimeout bounds a readiness run.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a new health checker.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version: version,
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]*DependencyCheck),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()

	return c
}

// Register adds a dependency check, replacing one with the same name.
func (c *Checker) Register(check *DependencyCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[check.name] = check
}

// Unregister removes a dependency check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Liveness returns the liveness status.
func (c *Checker) Liveness() LivenessResponse {
	now := c.now()
	c.metrics.checked(checkTypeLiveness)
	return LivenessResponse{
		OK:        true,
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    now.Sub(c.startTime).Round(time.Second).String(),
		Timestamp: now,
	}
}

// Readiness runs every registered check and folds the results.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.metrics.checked(checkTypeReadiness)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := ReadinessResponse{
		OK:        true,
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: c.now(),
	}

	if c.upstreamCount != nil {
		response.UpstreamServices = c.upstreamCount()
		check := Check{Status: StatusHealthy}
		if response.UpstreamServices == 0 {
			check = Check{Status: StatusDegraded, Message: ErrNoUpstreams.Error()}
		}
		response.Checks["upstreams"] = check
		c.metrics.status("upstreams", check.Status == StatusHealthy)
	}

	for _, dep := range c.snapshot() {
		start := c.now()
		err := dep.checkFn(ctx)
		check := Check{
			Status:   StatusHealthy,
			Critical: dep.critical,
			Duration: c.now().Sub(start).String(),
		}
		if err != nil {
			check.Message = err.Error()
			check.Status = StatusDegraded
			if dep.critical {
				check.Status = StatusUnhealthy
			}
		}
		response.Checks[dep.name] = check
		c.metrics.status(dep.name, err == nil)
	}

	for _, check := range response.Checks {
		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}
	response.OK = response.Status != StatusUnhealthy
	c.metrics.status(checkOverall, response.OK)

	return response
}

func (c *Checker) snapshot() []*DependencyCheck {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := make([]*DependencyCheck, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })
	return checks
}
