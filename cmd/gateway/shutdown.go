package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/streamgw/internal/config"
	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// runGateway runs the gateway until SIGINT or SIGTERM.
func runGateway(app *application, configPath string, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, app, configPath, logger); err != nil {
		fatalWithSync(logger, "gateway terminated", observability.Error(err))
	}
}

// serve runs the server until ctx is done or the listener fails, then
// shuts everything down.
func serve(ctx context.Context, app *application, configPath string, logger observability.Logger) error {
	watcher := startConfigWatcher(ctx, app, configPath, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
	}

	shutdown(app, watcher, logger)
	return runErr
}

// shutdown stops the watcher, drains the server and releases the cache
// and tracer within the configured shutdown timeout.
func shutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
		app.reloadMetrics.configWatcherStatus.Set(0)
	}

	start := time.Now()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			logger.Error("failed to close cache", observability.Error(err))
		}
	}

	if app.tracer != nil {
		if err := app.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}

	logger.Info("gateway stopped", observability.Duration("drain", time.Since(start)))
}
