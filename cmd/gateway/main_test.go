package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/streamgw/internal/backend"
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// clearGatewayEnv keeps the process environment out of config loading.
func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvGatewayEnv, config.EnvNodeEnv, config.EnvHost, config.EnvPort,
		config.EnvLogLevel, config.EnvLogFormat, config.EnvAuthRequired, config.EnvJWTSecret,
		config.EnvRateLimitMax, config.EnvRateLimitWindowMs, config.EnvProxyTimeoutMs,
		config.EnvCacheEnabled, config.EnvCacheType, config.EnvCacheTTLMs, config.EnvCacheMaxBodyBytes,
		config.EnvRedisURL, config.EnvWSMaxBuffered, config.EnvWSPingIntervalMs,
		config.EnvWSPongTimeoutMs, config.EnvUpstreams, config.EnvOTLPEndpoint,
		"GATEWAY_CONFIG_PATH",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testConfigYAML = `
env: test
server:
  host: 127.0.0.1
  port: 18080
logging:
  level: info
rateLimit:
  enabled: false
  max: 10
  window: 1m
upstreams:
  users:
    - http://127.0.0.1:9001
    - http://127.0.0.1:9002
`

func withExitFunc(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = orig })
	return &code
}

func TestParseFlags(t *testing.T) {
	clearGatewayEnv(t)

	flags, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, cliFlags{}, flags)

	flags, err = parseFlags([]string{"-config", "gw.yaml", "-log-level", "debug", "-log-format", "console", "-version"})
	require.NoError(t, err)
	assert.Equal(t, cliFlags{
		configPath:  "gw.yaml",
		logLevel:    "debug",
		logFormat:   "console",
		showVersion: true,
	}, flags)

	t.Setenv("GATEWAY_CONFIG_PATH", "/etc/streamgw.yaml")
	flags, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/streamgw.yaml", flags.configPath)

	_, err = parseFlags([]string{"-unknown"})
	assert.Error(t, err)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)

	out := buf.String()
	assert.Contains(t, out, "streamgw version "+version)
	assert.Contains(t, out, "Build time: "+buildTime)
	assert.Contains(t, out, "Git commit: "+gitCommit)
}

func TestLoadAndValidateConfig(t *testing.T) {
	clearGatewayEnv(t)
	path := writeConfig(t, t.TempDir(), testConfigYAML)

	cfg, err := loadAndValidateConfig(cliFlags{configPath: path, logLevel: "debug", logFormat: "console"})
	require.NoError(t, err)
	assert.Equal(t, config.EnvTest, cfg.Env)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Len(t, cfg.Upstreams["users"], 2)

	_, err = loadAndValidateConfig(cliFlags{configPath: path, logLevel: "loud"})
	assert.Error(t, err)

	_, err = loadAndValidateConfig(cliFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	bad := writeConfig(t, t.TempDir(), "upstreams:\n  users:\n    - ftp://example.com\n")
	_, err = loadAndValidateConfig(cliFlags{configPath: bad})
	assert.Error(t, err)
}

func TestFatalWithSync(t *testing.T) {
	code := withExitFunc(t)

	fatalWithSync(observability.NopLogger(), "boom")

	assert.Equal(t, 1, *code)
}

func testAppConfig() *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Env = config.EnvTest
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = config.Duration(5 * time.Second)
	cfg.Upstreams = map[string][]string{"users": {"http://127.0.0.1:9001"}}
	return cfg
}

func TestInitApplication(t *testing.T) {
	withExitFunc(t)
	cfg := testAppConfig()
	cfg.Cache.Enabled = true

	app := initApplication(cfg, observability.NopLogger())
	require.NotNil(t, app)

	assert.NotNil(t, app.server)
	assert.NotNil(t, app.cache)
	assert.Equal(t, 1, app.registry.Services())
	assert.True(t, app.rateLimiter.Enabled())

	families, err := app.metrics.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gateway_build_info"])
	assert.True(t, names["gateway_config_watcher_running"])

	ready := app.checker.Readiness(context.Background())
	assert.True(t, ready.OK)
	assert.NotContains(t, ready.Checks, "cache")
}

func TestInitApplication_FailOpenMetric(t *testing.T) {
	withExitFunc(t)
	app := initApplication(testAppConfig(), observability.NopLogger())
	require.NotNil(t, app)

	const upstream = "http://127.0.0.1:9001"
	for i := 0; i < backend.FailureThreshold; i++ {
		app.registry.BeginHTTP("users", upstream).Finish(502, backend.NoLatency)
	}
	picked, ok := app.registry.Pick("users")
	require.True(t, ok)
	assert.Equal(t, upstream, picked)

	families, err := app.metrics.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "gateway_proxy_last_fail_open_timestamp_seconds" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			assert.Positive(t, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestInitApplication_RedisCache(t *testing.T) {
	withExitFunc(t)
	mr := miniredis.RunT(t)

	cfg := testAppConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Type = config.CacheTypeRedis
	cfg.Cache.Redis = &config.RedisCacheConfig{URL: "redis://" + mr.Addr()}

	app := initApplication(cfg, observability.NopLogger())
	require.NotNil(t, app)
	t.Cleanup(func() { _ = app.cache.Close() })

	ready := app.checker.Readiness(context.Background())
	require.Contains(t, ready.Checks, "cache")
	assert.True(t, ready.OK)

	mr.Close()
	ready = app.checker.Readiness(context.Background())
	assert.True(t, ready.OK, "cache failures degrade readiness without failing it")
	assert.NotEmpty(t, ready.Checks["cache"].Message)
}

func TestInitAuthenticator(t *testing.T) {
	metrics := observability.NewMetrics("authinit")

	cfg := testAppConfig()
	assert.Nil(t, initAuthenticator(cfg, metrics, observability.NopLogger()))

	cfg.Auth.JWTSecret = strings.Repeat("s", 32)
	optional := initAuthenticator(cfg, metrics, observability.NopLogger())
	require.NotNil(t, optional)
	assert.False(t, optional.Required())

	required := true
	cfg.Auth.Required = &required
	enforced := initAuthenticator(cfg, metrics, observability.NopLogger())
	require.NotNil(t, enforced)
	assert.True(t, enforced.Required())
}

func TestReloadComponents(t *testing.T) {
	withExitFunc(t)
	cfg := testAppConfig()
	cfg.RateLimit.Enabled = false
	app := initApplication(cfg, observability.NopLogger())
	require.NotNil(t, app)
	require.False(t, app.rateLimiter.Enabled())

	next := testAppConfig()
	next.Logging.Level = "debug"
	next.RateLimit = config.RateLimitConfig{Enabled: true, Max: 5, Window: config.Duration(time.Minute)}
	next.Upstreams["orders"] = []string{"http://127.0.0.1:9003"}

	reloadComponents(app, cfg, next, observability.NopLogger())

	assert.True(t, app.rateLimiter.Enabled())
	assert.Same(t, next, app.config)
	assert.Equal(t, 1, app.registry.Services(), "the upstream table is fixed at startup")

	rm := app.reloadMetrics
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.configReloadTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.configReloadComponentTotal.WithLabelValues("log_level", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.configReloadComponentTotal.WithLabelValues("rate_limiter", "success")))

	reloadComponents(app, next, next, observability.NopLogger())
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.configReloadComponentTotal.WithLabelValues("rate_limiter", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rm.configReloadTotal.WithLabelValues("success")))
}

func TestRestartOnlySections(t *testing.T) {
	previous := testAppConfig()
	assert.Empty(t, restartOnlySections(previous, testAppConfig()))

	current := testAppConfig()
	current.Server.Port = 9999
	current.Auth.JWTSecret = strings.Repeat("x", 32)
	current.Cache.Enabled = true
	current.WebSocket.PingInterval = config.Duration(time.Second)

	assert.Equal(t, []string{"server", "auth", "cache", "websocket"}, restartOnlySections(previous, current))
}

func TestConfigSectionChanged(t *testing.T) {
	a := map[string][]string{"users": {"http://a"}}
	b := map[string][]string{"users": {"http://a"}}
	assert.False(t, configSectionChanged(a, b))

	b["users"] = append(b["users"], "http://b")
	assert.True(t, configSectionChanged(a, b))

	assert.True(t, configSectionChanged(func() {}, func() {}), "unhashable sections fall back to DeepEqual")
}

func TestStartConfigWatcher_AppliesRateLimit(t *testing.T) {
	withExitFunc(t)
	clearGatewayEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfigYAML)

	cfg, err := loadAndValidateConfig(cliFlags{configPath: path})
	require.NoError(t, err)
	app := initApplication(cfg, observability.NopLogger())
	require.NotNil(t, app)
	require.False(t, app.rateLimiter.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher := startConfigWatcher(ctx, app, path, observability.NopLogger())
	require.NotNil(t, watcher)
	defer func() { _ = watcher.Stop() }()
	assert.Equal(t, 1.0, testutil.ToFloat64(app.reloadMetrics.configWatcherStatus))

	updated := strings.Replace(testConfigYAML, "enabled: false", "enabled: true", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, app.rateLimiter.Enabled, 5*time.Second, 20*time.Millisecond)
}

func TestStartConfigWatcher_NoPath(t *testing.T) {
	assert.Nil(t, startConfigWatcher(context.Background(), &application{}, "", observability.NopLogger()))
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	withExitFunc(t)
	app := initApplication(testAppConfig(), observability.NopLogger())
	require.NotNil(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, app, "", observability.NopLogger()) }()

	require.Eventually(t, app.server.IsRunning, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	assert.False(t, app.server.IsRunning())
}
