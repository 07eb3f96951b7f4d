package main

import (
	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// loadAndValidateConfig loads the configuration, applies flag overrides
// and validates the result.
func loadAndValidateConfig(flags cliFlags) (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	applyFlagOverrides(cfg, flags)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.GatewayConfig, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
}

// initLogger creates the process logger and installs it globally.
func initLogger(cfg *config.GatewayConfig) (observability.Logger, error) {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	observability.SetGlobalLogger(logger)
	return logger, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig, logger observability.Logger) *observability.Tracer {
	tracing := cfg.Observability.Tracing
	tracerCfg := observability.TracerConfig{
		ServiceName:  "streamgw",
		Enabled:      tracing.Enabled,
		SamplingRate: tracing.SamplingRate,
		OTLPEndpoint: tracing.OTLPEndpoint,
	}
	if tracing.ServiceName != "" {
		tracerCfg.ServiceName = tracing.ServiceName
	}

	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil
	}

	if tracer.Enabled() {
		logger.Info("tracing enabled",
			observability.String("service", tracerCfg.ServiceName),
			observability.String("endpoint", tracerCfg.OTLPEndpoint),
		)
	}
	return tracer
}
