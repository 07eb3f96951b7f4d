package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// minIdleTimeout is the shortest time a client limiter is kept after its
// last request.
const minIdleTimeout = time.Minute

// clientLimiter is the token bucket of one client.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter keeps one token bucket per client key. A client may spend
// Max requests at once and regains them at Max per Window.
type RateLimiter struct {
	mu       sync.RWMutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	interval time.Duration // time needed to regain one request
	idle     time.Duration
	enabled  atomic.Bool

	// lastSweep is the unix nano time of the last idle sweep.
	lastSweep atomic.Int64

	now    func() time.Time
	logger observability.Logger
}

// RateLimiterOption is a functional option for configuring the rate limiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger for the rate limiter.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithRateLimiterClock sets the time source.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a per-client rate limiter from configuration.
func NewRateLimiter(cfg config.RateLimitConfig, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(rl)
	}

	rl.limit, rl.burst, rl.interval, rl.idle = limitsFor(cfg)
	rl.enabled.Store(cfg.Enabled)
	rl.lastSweep.Store(rl.now().UnixNano())

	return rl
}

func limitsFor(cfg config.RateLimitConfig) (limit rate.Limit, burst int, interval, idle time.Duration) {
	window := cfg.Window.Duration()
	if cfg.Max <= 0 || window <= 0 {
		return rate.Inf, 0, 0, minIdleTimeout
	}
	idle = 2 * window
	if idle < minIdleTimeout {
		idle = minIdleTimeout
	}
	interval = window / time.Duration(cfg.Max)
	return rate.Every(interval), cfg.Max, interval, idle
}

// Enabled reports whether requests are being limited.
func (rl *RateLimiter) Enabled() bool {
	return rl.enabled.Load()
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.enabled.Load() {
		return true
	}

	now := rl.now()
	rl.sweep(now)

	rl.mu.RLock()
	cl, exists := rl.clients[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		cl, exists = rl.clients[key]
		if !exists {
			cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
			rl.clients[key] = cl
		}
		rl.mu.Unlock()
	}

	cl.lastSeen.Store(now.UnixNano())
	return cl.limiter.AllowN(now, 1)
}

// RetryAfter returns the time a rejected client waits for one request.
func (rl *RateLimiter) RetryAfter() time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.interval
}

// SetLimits applies a new configuration to the limiter and to every
// tracked client.
func (rl *RateLimiter) SetLimits(cfg config.RateLimitConfig) {
	limit, burst, interval, idle := limitsFor(cfg)
	now := rl.now()

	rl.mu.Lock()
	rl.limit, rl.burst, rl.interval, rl.idle = limit, burst, interval, idle
	for _, cl := range rl.clients {
		cl.limiter.SetLimitAt(now, limit)
		cl.limiter.SetBurstAt(now, burst)
	}
	rl.mu.Unlock()

	rl.enabled.Store(cfg.Enabled)

	rl.logger.Info("rate limit updated",
		observability.Bool("enabled", cfg.Enabled),
		observability.Int("max", cfg.Max),
		observability.Duration("window", cfg.Window.Duration()),
	)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// sweep drops clients idle for longer than the idle timeout. It runs at
// most once per idle timeout.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.RLock()
	idle := rl.idle
	rl.mu.RUnlock()

	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(idle) {
		return
	}
	if !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	cutoff := now.Add(-idle).UnixNano()

	rl.mu.Lock()
	removed := 0
	for key, cl := range rl.clients {
		if cl.lastSeen.Load() < cutoff {
			delete(rl.clients, key)
			removed++
		}
	}
	rl.mu.Unlock()

	if removed > 0 {
		rl.logger.Debug("rate limiter clients expired", observability.Int("removed", removed))
	}
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Limiter *RateLimiter
	Metrics *observability.Metrics
	Logger  observability.Logger
	// SkipPaths is a list of paths to skip rate limiting.
	SkipPaths []string
}

// RateLimit returns a middleware that rejects clients over their budget
// with 429 rate_limited. Clients are keyed by their IP address.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if config.Limiter == nil || skipPaths[path] || isHealthCheckPath(path) {
			c.Next()
			return
		}

		key := c.ClientIP()
		if config.Limiter.Allow(key) {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(config.Limiter.RetryAfter().Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header(headerRetryAfter, strconv.Itoa(retryAfter))

		if config.Metrics != nil {
			route := c.FullPath()
			if route == "" {
				route = observability.UnmatchedRoute
			}
			config.Metrics.RecordRateLimitHit(route)
		}
		config.Logger.Debug("rate limit exceeded",
			observability.String("client_ip", key),
			observability.String("path", path),
		)

		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			errorBody(CodeRateLimited, "Rate limit exceeded, retry in "+strconv.Itoa(retryAfter)+" seconds"))
	}
}
