package signature

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- module file watcher ---

// ModuleEvent reports one reload of a watched module file. Err is set when
// the file was removed or failed to load; Module is nil in that case.
type ModuleEvent struct {
	Path      string
	Module    *Module
	Err       error
	Timestamp time.Time
}

// WatcherOption configures a ModuleWatcher.
type WatcherOption func(*ModuleWatcher)

// WithPollInterval sets how often the file is stat'ed.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *ModuleWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounceDelay sets how long the file must stay unchanged before reload.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *ModuleWatcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *ModuleWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithModuleLoader replaces the FileLoader used for reloads.
func WithModuleLoader(l ModuleLoader) WatcherOption {
	return func(w *ModuleWatcher) {
		if l != nil {
			w.loader = l
		}
	}
}

// ModuleWatcher polls a module definition file and reloads it after changes
// settle. Callbacks run on the watcher goroutine, one event at a time.
type ModuleWatcher struct {
	mu sync.RWMutex

	path     string
	loader   ModuleLoader
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	running   bool
	stopChan  chan struct{}
	doneChan  chan struct{}
	callbacks []func(ModuleEvent)

	// poll state, owned by the loop goroutine
	lastMod  time.Time
	lastSize int64
	exists   bool
}

// NewModuleWatcher creates a watcher for path. A missing file is allowed and
// reported once it appears.
func NewModuleWatcher(path string, opts ...WatcherOption) (*ModuleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	w := &ModuleWatcher{
		path:     abs,
		loader:   NewFileLoader(),
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "module_watcher"))

	if _, err := os.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
		}
		w.logger.Warn("module file does not exist, will watch for creation", zap.String("path", abs))
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *ModuleWatcher) Path() string { return w.path }

// OnChange registers a callback for reload events.
func (w *ModuleWatcher) OnChange(callback func(ModuleEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins polling until ctx is done or Stop is called.
func (w *ModuleWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})
	stop, done := w.stopChan, w.doneChan
	w.mu.Unlock()

	w.exists, w.lastMod, w.lastSize = w.stat()

	go w.loop(ctx, stop, done)

	w.logger.Info("module watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.interval),
		zap.Duration("debounce_delay", w.debounce))
	return nil
}

// Stop stops the watcher and waits for the loop to exit. It is a no-op when
// the watcher is not running.
func (w *ModuleWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopChan)
	w.running = false
	done := w.doneChan
	w.mu.Unlock()

	<-done
	w.logger.Info("module watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running.
func (w *ModuleWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *ModuleWatcher) stat() (bool, time.Time, int64) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, time.Time{}, 0
	}
	return true, info.ModTime(), info.Size()
}

// changed updates the poll state and reports whether the file moved since
// the last poll.
func (w *ModuleWatcher) changed() bool {
	exists, mod, size := w.stat()
	diff := exists != w.exists || !mod.Equal(w.lastMod) || size != w.lastSize
	w.exists, w.lastMod, w.lastSize = exists, mod, size
	return diff
}

func (w *ModuleWatcher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if !w.changed() {
				continue
			}
			// restart the debounce timer
			if debounce == nil {
				debounce = time.NewTimer(w.debounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			w.dispatch(w.reload())
		}
	}
}

func (w *ModuleWatcher) reload() ModuleEvent {
	evt := ModuleEvent{Path: w.path, Timestamp: time.Now()}
	if !w.exists {
		evt.Err = fmt.Errorf("module file removed: %s", w.path)
		return evt
	}
	m, err := w.loader.LoadFile(w.path)
	if err != nil {
		evt.Err = err
		return evt
	}
	evt.Module = m
	return evt
}

func (w *ModuleWatcher) dispatch(evt ModuleEvent) {
	w.mu.RLock()
	callbacks := make([]func(ModuleEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	if evt.Err != nil {
		w.logger.Warn("module reload failed", zap.String("path", evt.Path), zap.Error(evt.Err))
	} else {
		w.logger.Debug("module reloaded", zap.String("path", evt.Path))
	}
	for _, cb := range callbacks {
		cb(evt)
	}
}
