package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvGatewayEnv        = "GATEWAY_ENV"
	EnvNodeEnv           = "NODE_ENV"
	EnvHost              = "HOST"
	EnvPort              = "PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvAuthRequired      = "AUTH_REQUIRED"
	EnvJWTSecret         = "JWT_SECRET"
	EnvRateLimitMax      = "RATE_LIMIT_MAX"
	EnvRateLimitWindowMs = "RATE_LIMIT_WINDOW_MS"
	EnvProxyTimeoutMs    = "HTTP_PROXY_TIMEOUT_MS"
	EnvCacheEnabled      = "CACHE_ENABLED"
	EnvCacheType         = "CACHE_TYPE"
	EnvCacheTTLMs        = "CACHE_DEFAULT_TTL_MS"
	EnvCacheMaxBodyBytes = "CACHE_MAX_BODY_BYTES"
	EnvRedisURL          = "REDIS_URL"
	EnvWSMaxBuffered     = "WS_MAX_BUFFERED_BYTES"
	EnvWSPingIntervalMs  = "WS_PING_INTERVAL_MS"
	EnvWSPongTimeoutMs   = "WS_PONG_TIMEOUT_MS"
	EnvUpstreams         = "UPSTREAMS"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// EnvError reports an environment variable that could not be parsed.
type EnvError struct {
	Key   string
	Value string
	Cause error
}

// Error implements the error interface.
func (e *EnvError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Key, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EnvError) Unwrap() error {
	return e.Cause
}

// ParseBool accepts true/1/yes/y/on and false/0/no/n/off, case-insensitively.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean")
	}
}

// envApplier collects the first parse error while applying overrides.
type envApplier struct {
	lookup LookupFunc
	err    error
}

func (a *envApplier) str(key string, dst *string) {
	if v, ok := a.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (a *envApplier) fail(key, value string, cause error) {
	if a.err == nil {
		a.err = &EnvError{Key: key, Value: value, Cause: cause}
	}
}

func (a *envApplier) integer(key string, dst *int) {
	v, ok := a.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		a.fail(key, v, err)
		return
	}
	*dst = n
}

func (a *envApplier) integer64(key string, dst *int64) {
	v, ok := a.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		a.fail(key, v, err)
		return
	}
	*dst = n
}

func (a *envApplier) boolean(key string, dst *bool) {
	v, ok := a.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := ParseBool(v)
	if err != nil {
		a.fail(key, v, err)
		return
	}
	*dst = b
}

func (a *envApplier) millis(key string, dst *Duration) {
	v, ok := a.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := ParseDuration(strings.TrimSpace(v))
	if err != nil {
		a.fail(key, v, err)
		return
	}
	*dst = d
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *GatewayConfig, lookup LookupFunc) error {
	a := &envApplier{lookup: lookup}

	a.str(EnvNodeEnv, &cfg.Env)
	a.str(EnvGatewayEnv, &cfg.Env)
	a.str(EnvHost, &cfg.Server.Host)
	a.integer(EnvPort, &cfg.Server.Port)
	a.str(EnvLogLevel, &cfg.Logging.Level)
	a.str(EnvLogFormat, &cfg.Logging.Format)

	if v, ok := lookup(EnvAuthRequired); ok && v != "" {
		required, err := ParseBool(v)
		if err != nil {
			a.fail(EnvAuthRequired, v, err)
		} else {
			cfg.Auth.Required = &required
		}
	}
	a.str(EnvJWTSecret, &cfg.Auth.JWTSecret)

	a.integer(EnvRateLimitMax, &cfg.RateLimit.Max)
	a.millis(EnvRateLimitWindowMs, &cfg.RateLimit.Window)
	a.millis(EnvProxyTimeoutMs, &cfg.Proxy.Timeout)

	a.boolean(EnvCacheEnabled, &cfg.Cache.Enabled)
	a.str(EnvCacheType, &cfg.Cache.Type)
	a.millis(EnvCacheTTLMs, &cfg.Cache.TTL)
	a.integer64(EnvCacheMaxBodyBytes, &cfg.Cache.MaxBodyBytes)
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		if cfg.Cache.Redis == nil {
			cfg.Cache.Redis = &RedisCacheConfig{}
		}
		cfg.Cache.Redis.URL = v
	}

	a.integer64(EnvWSMaxBuffered, &cfg.WebSocket.MaxBufferedBytes)
	a.millis(EnvWSPingIntervalMs, &cfg.WebSocket.PingInterval)
	a.millis(EnvWSPongTimeoutMs, &cfg.WebSocket.PongTimeout)

	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Observability.Tracing.OTLPEndpoint = v
		cfg.Observability.Tracing.Enabled = true
	}

	if v, ok := lookup(EnvUpstreams); ok && strings.TrimSpace(v) != "" {
		var upstreams map[string][]string
		if err := json.Unmarshal([]byte(v), &upstreams); err != nil {
			a.fail(EnvUpstreams, v, fmt.Errorf("must be a JSON object of service to URL list: %w", err))
		} else {
			cfg.Upstreams = upstreams
		}
	}

	return a.err
}
