package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// fileState is the last observed state of the watched file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls the config file and reports content changes through a
// callback. Polling keeps the dependency surface small; an invalid file is
// logged and the previous config kept. Only the hot-reloadable subset
// reported by [Diff] should be applied without a restart.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	last    fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config once, then polls for changes in a background
// goroutine until [Watcher.Stop].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.last = state

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check re-reads the file when its mtime moved, swaps in the new config on a
// real content change, and fires the callback outside the lock.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, state, err := w.load()
	if err != nil {
		slog.Warn("config watcher: failed to load config, keeping previous",
			"path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if state.hash == w.last.hash {
		// Touched without a content change.
		w.last.mtime = state.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.last = state
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load reads, parses, and validates the file, returning the config together
// with the file state used for change detection.
func (w *Watcher) load() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
