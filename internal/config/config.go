package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Cache backend types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Default values.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8080
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultRateLimitMax      = 200
	DefaultRateLimitWindow   = 60 * time.Second
	DefaultProxyTimeout      = 30 * time.Second
	DefaultCacheTTL          = 5 * time.Second
	DefaultCacheMaxEntries   = 500
	DefaultCacheMaxBodyBytes = 262144
	DefaultWSMaxBuffered     = 2000000
	DefaultWSPingInterval    = 30 * time.Second
	DefaultWSHandshake       = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMetricsPath       = "/metrics"
	DefaultRedisKeyPrefix    = "streamgw:cache:"
	MinJWTSecretLength       = 32
)

// GatewayConfig is the complete gateway configuration.
type GatewayConfig struct {
	Env           string              `yaml:"env" json:"env"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit" json:"rateLimit"`
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	WebSocket     WebSocketConfig     `yaml:"websocket" json:"websocket"`
	Upstreams     map[string][]string `yaml:"upstreams" json:"upstreams"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host              string   `yaml:"host" json:"host"`
	Port              int      `yaml:"port" json:"port"`
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout,omitempty" json:"readHeaderTimeout,omitempty"`
	IdleTimeout       Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
	MaxBodySize       int64    `yaml:"maxBodySize,omitempty" json:"maxBodySize,omitempty"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// Required defaults to true in production when unset.
	Required  *bool  `yaml:"required,omitempty" json:"required,omitempty"`
	JWTSecret string `yaml:"jwtSecret,omitempty" json:"-"`
}

// RateLimitConfig configures per-client request rate limiting.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Max     int      `yaml:"max" json:"max"`
	Window  Duration `yaml:"window" json:"window"`
}

// ProxyConfig configures the HTTP proxy.
type ProxyConfig struct {
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Type         string            `yaml:"type" json:"type"`
	TTL          Duration          `yaml:"ttl" json:"ttl"`
	MaxEntries   int               `yaml:"maxEntries" json:"maxEntries"`
	MaxBodyBytes int64             `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	Redis        *RedisCacheConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisCacheConfig configures the Redis cache backend.
type RedisCacheConfig struct {
	URL              string   `yaml:"url" json:"url"`
	KeyPrefix        string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	PoolSize         int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	DialTimeout      Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	OperationTimeout Duration `yaml:"operationTimeout,omitempty" json:"operationTimeout,omitempty"`
}

// WebSocketConfig configures the WebSocket bridge.
type WebSocketConfig struct {
	MaxBufferedBytes int64    `yaml:"maxBufferedBytes" json:"maxBufferedBytes"`
	PingInterval     Duration `yaml:"pingInterval" json:"pingInterval"`
	// PongTimeout closes clients that miss a pong for this long after a
	// ping. Zero disables the check.
	PongTimeout      Duration `yaml:"pongTimeout,omitempty" json:"pongTimeout,omitempty"`
	HandshakeTimeout Duration `yaml:"handshakeTimeout,omitempty" json:"handshakeTimeout,omitempty"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			ReadHeaderTimeout: Duration(DefaultReadHeaderTimeout),
			IdleTimeout:       Duration(DefaultIdleTimeout),
			ShutdownTimeout:   Duration(DefaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Max:     DefaultRateLimitMax,
			Window:  Duration(DefaultRateLimitWindow),
		},
		Proxy: ProxyConfig{
			Timeout: Duration(DefaultProxyTimeout),
		},
		Cache: CacheConfig{
			Type:         CacheTypeMemory,
			TTL:          Duration(DefaultCacheTTL),
			MaxEntries:   DefaultCacheMaxEntries,
			MaxBodyBytes: DefaultCacheMaxBodyBytes,
		},
		WebSocket: WebSocketConfig{
			MaxBufferedBytes: DefaultWSMaxBuffered,
			PingInterval:     Duration(DefaultWSPingInterval),
			HandshakeTimeout: Duration(DefaultWSHandshake),
		},
		Upstreams: map[string][]string{},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				ServiceName:  "streamgw",
				SamplingRate: 1.0,
			},
		},
	}
}

// AuthRequired reports whether bearer tokens are enforced.
func (c *GatewayConfig) AuthRequired() bool {
	if c.Auth.Required != nil {
		return *c.Auth.Required
	}
	return c.Env == EnvProduction
}

// String returns a short description for logs.
func (c *GatewayConfig) String() string {
	return fmt.Sprintf("env=%s addr=%s services=%d cache=%t auth=%t",
		c.Env, c.Server.Address(), len(c.Upstreams), c.Cache.Enabled, c.AuthRequired())
}
