package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// ChangeFunc is called with the previous and the newly loaded
// configuration after a successful reload.
type ChangeFunc func(previous, current *GatewayConfig)

// Watcher reloads the configuration file when it changes on disk.
// Invalid files are logged and skipped; the last good configuration
// stays current.
type Watcher struct {
	path          string
	loader        *Loader
	watcher       *fsnotify.Watcher
	onChange      ChangeFunc
	logger        observability.Logger
	debounceDelay time.Duration

	mu      sync.RWMutex
	current *GatewayConfig
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the delay used to coalesce bursts of events.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithWatcherLoader replaces the loader used on reload.
func WithWatcherLoader(loader *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = loader
	}
}

// NewWatcher creates a watcher for path. current is the configuration
// already in effect.
func NewWatcher(path string, current *GatewayConfig, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		loader:        NewLoader(),
		watcher:       fsWatcher,
		onChange:      onChange,
		logger:        observability.NopLogger(),
		debounceDelay: 100 * time.Millisecond,
		current:       current,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching. The parent directory is watched so editors that
// replace the file atomically are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	w.logger.Info("watching configuration file",
		observability.String("path", w.path),
	)

	go w.loop(ctx)
	return nil
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("configuration reload failed",
					observability.String("path", w.path),
					observability.Error(err),
				)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", observability.Error(err))
		}
	}
}

// Reload loads and validates the file and hands it to the change callback.
func (w *Watcher) Reload() error {
	next, err := w.loader.Load(w.path)
	if err != nil {
		return err
	}
	if err := ValidateConfig(next); err != nil {
		return err
	}

	w.mu.Lock()
	previous := w.current
	w.current = next
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", observability.String("config", next.String()))

	if w.onChange != nil {
		w.onChange(previous, next)
	}
	return nil
}
