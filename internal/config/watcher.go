package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when the file changes on disk and hands
// each successfully parsed Config to the onChange callback. Reloads that fail
// to parse or validate are logged and dropped so a half-saved file never
// replaces a working configuration.
type Watcher struct {
	path     string
	opts     LoadOptions
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	timer   *time.Timer
	wg      sync.WaitGroup
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the logger for reload failures and watch errors.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchDebounce sets how long the watcher coalesces bursts of file
// events before reloading.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher prepares a watcher for the config file at path. The same
// LoadOptions used for the initial load keep profile and CLI overrides in
// effect across reloads.
func NewWatcher(path string, opts LoadOptions, onChange func(*Config), watcherOpts ...WatcherOption) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     absPath,
		opts:     opts,
		onChange: onChange,
		logger:   slog.Default(),
		debounce: defaultWatchDebounce,
	}
	for _, opt := range watcherOpts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The containing directory is watched rather than the
// file itself: editors save by rename, which silently drops a watch placed
// directly on the file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return fmt.Errorf("config watcher already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.watcher = watcher
	w.cancel = cancel

	w.wg.Add(1)
	go w.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.scheduleReload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.opts)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.onChange(cfg)
}
