package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/config"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cleanup := func() {
		mr.Close()
	}

	return mr, cleanup
}

func newTestRedisCache(t *testing.T, mr *miniredis.Miniredis, opts ...Option) *RedisCache {
	t.Helper()

	c, err := NewRedisCache(&config.RedisCacheConfig{
		URL:              "redis://" + mr.Addr(),
		OperationTimeout: config.Duration(time.Second),
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_GetSet(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	clock := newFakeClock()
	c := newTestRedisCache(t, mr, WithClock(clock.Now))
	ctx := context.Background()

	_, ok := c.Get(ctx, "users:http://a/x")
	assert.False(t, ok)

	c.Set(ctx, "users:http://a/x", newEntry(clock, `{"id":1}`, 5*time.Second))

	entry, ok := c.Get(ctx, "users:http://a/x")
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, "application/json", entry.Header.Get("Content-Type"))
	assert.Equal(t, `{"id":1}`, string(entry.Body))
	assert.Equal(t, 1, c.Len())
}

func TestRedisCache_KeyPrefixAndExpiry(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	clock := newFakeClock()
	c := newTestRedisCache(t, mr, WithClock(clock.Now))

	c.Set(context.Background(), "k", newEntry(clock, "body", 5*time.Second))

	assert.True(t, mr.Exists(config.DefaultRedisKeyPrefix+"k"))
	assert.Equal(t, 5*time.Second, mr.TTL(config.DefaultRedisKeyPrefix+"k"))
}

func TestRedisCache_ExpiredOnRead(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	clock := newFakeClock()
	c := newTestRedisCache(t, mr, WithClock(clock.Now))
	ctx := context.Background()

	c.Set(ctx, "k", newEntry(clock, "body", 5*time.Second))

	clock.Advance(5 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, mr.Exists(config.DefaultRedisKeyPrefix+"k"))
}

func TestRedisCache_UndecodableEntryIsMiss(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	c := newTestRedisCache(t, mr)
	require.NoError(t, mr.Set(config.DefaultRedisKeyPrefix+"bad", "not json"))

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
	assert.False(t, mr.Exists(config.DefaultRedisKeyPrefix+"bad"))
}

func TestRedisCache_SkipsNonPositiveTTL(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	clock := newFakeClock()
	c := newTestRedisCache(t, mr, WithClock(clock.Now))

	c.Set(context.Background(), "k", newEntry(clock, "body", 0))
	assert.False(t, mr.Exists(config.DefaultRedisKeyPrefix+"k"))
}

func TestRedisCache_BackendDownIsMissAndTripsBreaker(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	clock := newFakeClock()
	c := newTestRedisCache(t, mr, WithClock(clock.Now))
	ctx := context.Background()

	mr.Close()

	for i := 0; i < redisBreakerFailures; i++ {
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())

	assert.NotPanics(t, func() {
		c.Set(ctx, "k", newEntry(clock, "body", time.Second))
	})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_Ping(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	c := newTestRedisCache(t, mr)
	assert.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestNew_Redis(t *testing.T) {
	mr, cleanup := setupMiniRedis(t)
	defer cleanup()

	c, err := New(&config.CacheConfig{
		Type:  config.CacheTypeRedis,
		Redis: &config.RedisCacheConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "gw:"},
	})
	require.NoError(t, err)
	defer c.Close()

	rc, ok := c.(*RedisCache)
	require.True(t, ok)
	assert.Equal(t, "gw:", rc.keyPrefix)
}
