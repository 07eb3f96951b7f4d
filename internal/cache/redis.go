package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

const (
	defaultRedisOperationTimeout = 250 * time.Millisecond
	redisBreakerFailures         = 5
	redisBreakerOpenTimeout      = 10 * time.Second
	redisBreakerInterval         = 30 * time.Second
	redisScanBatch               = 256
)

// RedisCache stores entries in Redis so replicas share a cache. Backend
// failures never surface to callers: they count as misses, and a
// breaker stops calling Redis after repeated failures.
type RedisCache struct {
	client    *redis.Client
	breaker   *gobreaker.CircuitBreaker
	keyPrefix string
	opTimeout time.Duration
	opts      options
}

// NewRedisCache connects to the Redis server named by cfg.URL.
func NewRedisCache(cfg *config.RedisCacheConfig, opts ...Option) (*RedisCache, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		redisOpts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		redisOpts.DialTimeout = cfg.DialTimeout.Duration()
	}
	return newRedisCache(redis.NewClient(redisOpts), cfg, opts...), nil
}

func newRedisCache(client *redis.Client, cfg *config.RedisCacheConfig, opts ...Option) *RedisCache {
	c := &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opTimeout: cfg.OperationTimeout.Duration(),
		opts:      buildOptions(opts),
	}
	if c.keyPrefix == "" {
		c.keyPrefix = config.DefaultRedisKeyPrefix
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultRedisOperationTimeout
	}

	logger := c.opts.logger
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Interval:    redisBreakerInterval,
		Timeout:     redisBreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= redisBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache breaker state changed",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
	return c
}

// Get reads and decodes an entry.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		c.backendError("get", key, err)
		c.opts.metrics.miss(backendRedis)
		return nil, false
	}

	data, _ := result.([]byte)
	if data == nil {
		c.opts.metrics.miss(backendRedis)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.opts.logger.Warn("discarding undecodable cache entry",
			observability.String("key", key),
			observability.Error(err),
		)
		c.delete(ctx, key)
		c.opts.metrics.miss(backendRedis)
		return nil, false
	}

	if entry.Expired(c.opts.now()) {
		c.delete(ctx, key)
		c.opts.metrics.evicted(backendRedis, evictExpired)
		c.opts.metrics.miss(backendRedis)
		return nil, false
	}

	c.opts.metrics.hit(backendRedis)
	return &entry, true
}

// Set encodes the entry and stores it with the entry TTL as expiry.
func (c *RedisCache) Set(ctx context.Context, key string, entry *Entry) {
	if entry == nil || entry.TTL <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.backendError("encode", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, c.keyPrefix+key, data, entry.TTL).Err()
	})
	if err != nil {
		c.backendError("set", key, err)
	}
}

// Len counts keys under the cache prefix. Errors count as zero.
func (c *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	n := 0
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		c.backendError("scan", c.keyPrefix, err)
		return 0
	}
	c.opts.metrics.size(backendRedis, n)
	return n
}

// Ping checks the connection. It bypasses the breaker so readiness
// reflects the server state directly.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.backendError("delete", key, err)
	}
}

func (c *RedisCache) backendError(op, key string, err error) {
	c.opts.metrics.failed(backendRedis, op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.opts.logger.Debug("cache breaker rejected call",
			observability.String("operation", op),
			observability.String("key", key),
		)
		return
	}
	c.opts.logger.Warn("cache backend error",
		observability.String("operation", op),
		observability.String("key", key),
		observability.Error(err),
	)
}
