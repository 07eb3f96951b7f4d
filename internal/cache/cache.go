package cache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// Backend labels.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// Entry is a stored upstream response.
type Entry struct {
	Status    int           `json:"status"`
	Header    http.Header   `json:"header,omitempty"`
	Body      []byte        `json:"body"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is older than its TTL. An entry
// exactly TTL old is still fresh.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// ResponseCache stores responses by an opaque key.
type ResponseCache interface {
	// Get returns a fresh entry. Expired entries are removed and
	// reported as a miss.
	Get(ctx context.Context, key string) (*Entry, bool)
	// Set stores the entry, replacing any previous one.
	Set(ctx context.Context, key string, entry *Entry)
	// Len returns the number of stored entries.
	Len() int
	// Close releases backend resources.
	Close() error
}

// Option configures a cache.
type Option func(*options)

type options struct {
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records hits, misses and evictions.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates the cache backend selected by cfg.
func New(cfg *config.CacheConfig, opts ...Option) (ResponseCache, error) {
	switch cfg.Type {
	case "", config.CacheTypeMemory:
		return NewMemoryCache(cfg.MaxEntries, opts...), nil
	case config.CacheTypeRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis cache requires redis settings")
		}
		return NewRedisCache(cfg.Redis, opts...)
	default:
		return nil, fmt.Errorf("unsupported cache type %q", cfg.Type)
	}
}
