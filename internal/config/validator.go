package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = nil

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateServer(&config.Server)
	v.validateAuth(config)
	v.validateRateLimit(&config.RateLimit)
	v.validateCache(&config.Cache)
	v.validateWebSocket(&config.WebSocket)
	v.validateUpstreams(config.Upstreams)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateRoot(config *GatewayConfig) {
	switch config.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		v.addError("env", fmt.Sprintf("must be one of %s, %s, %s", EnvDevelopment, EnvTest, EnvProduction))
	}

	if config.Proxy.Timeout <= 0 {
		v.addError("proxy.timeout", "must be positive")
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		v.addError("logging.level", "must be one of debug, info, warn, error, fatal")
	}
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Port < 1 || s.Port > 65535 {
		v.addError("server.port", "must be between 1 and 65535")
	}
	if s.MaxBodySize < 0 {
		v.addError("server.maxBodySize", "must not be negative")
	}
}

func (v *Validator) validateAuth(config *GatewayConfig) {
	secret := config.Auth.JWTSecret
	if secret != "" && len(secret) < MinJWTSecretLength {
		v.addError("auth.jwtSecret", fmt.Sprintf("must be at least %d characters", MinJWTSecretLength))
	}
	if config.AuthRequired() && secret == "" {
		v.addError("auth.jwtSecret", "JWT_SECRET is required when auth is required")
	}
}

func (v *Validator) validateRateLimit(r *RateLimitConfig) {
	if !r.Enabled {
		return
	}
	if r.Max <= 0 {
		v.addError("rateLimit.max", "must be positive")
	}
	if r.Window <= 0 {
		v.addError("rateLimit.window", "must be positive")
	}
}

func (v *Validator) validateCache(c *CacheConfig) {
	if !c.Enabled {
		return
	}
	if c.TTL <= 0 {
		v.addError("cache.ttl", "must be positive")
	}
	if c.MaxEntries <= 0 {
		v.addError("cache.maxEntries", "must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		v.addError("cache.maxBodyBytes", "must be positive")
	}

	switch c.Type {
	case CacheTypeMemory:
	case CacheTypeRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			v.addError("cache.redis.url", "is required for the redis cache")
		}
	default:
		v.addError("cache.type", fmt.Sprintf("must be %s or %s", CacheTypeMemory, CacheTypeRedis))
	}
}

func (v *Validator) validateWebSocket(w *WebSocketConfig) {
	if w.MaxBufferedBytes <= 0 {
		v.addError("websocket.maxBufferedBytes", "must be positive")
	}
	if w.PingInterval <= 0 {
		v.addError("websocket.pingInterval", "must be positive")
	}
	if w.PongTimeout < 0 {
		v.addError("websocket.pongTimeout", "must not be negative")
	}
}

func (v *Validator) validateUpstreams(upstreams map[string][]string) {
	services := make([]string, 0, len(upstreams))
	for service := range upstreams {
		services = append(services, service)
	}
	sort.Strings(services)

	for _, service := range services {
		urls := upstreams[service]
		path := "upstreams." + service
		if service == "" {
			v.addError(path, "service name must not be empty")
		}
		if len(urls) == 0 {
			v.addError(path, "at least one upstream URL is required")
			continue
		}
		for i, raw := range urls {
			if err := validateUpstreamURL(raw); err != nil {
				v.addError(fmt.Sprintf("%s[%d]", path, i), err.Error())
			}
		}
	}
}

func validateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
