package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file, and the catalog file it references, for
// changes. A valid new config is passed to onChange; an invalid one is
// logged and the previous config is kept. Catalog file changes are passed
// to the hook set with [WithCatalogHook].
type Watcher struct {
	path      string
	interval  time.Duration
	onChange  func(old, new *Config)
	onCatalog func(path string)

	mu       sync.Mutex
	current  *Config
	config   fileState
	catalog  fileState
	done     chan struct{}
	stopOnce sync.Once
}

// fileState is the last seen version of a watched file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
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

// WithCatalogHook sets a callback invoked with the catalog file path when
// its content changes, or when the config starts pointing to another file.
func WithCatalogHook(fn func(path string)) WatcherOption {
	return func(w *Watcher) { w.onCatalog = fn }
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, state, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.config = state
	if cfg.Catalog.File != "" {
		if _, st, err := readState(cfg.Catalog.File); err == nil {
			w.catalog = st
		}
	}

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
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
			w.checkConfig()
			w.checkCatalog()
		}
	}
}

// checkConfig reloads the config file when its content changed. Callbacks
// run outside the lock so they can call Current.
func (w *Watcher) checkConfig() {
	w.mu.Lock()
	last := w.config
	w.mu.Unlock()

	data, state, changed, err := changedSince(w.path, last)
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	if !changed {
		w.mu.Lock()
		w.config = state
		w.mu.Unlock()
		return
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		w.mu.Lock()
		w.config = state
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.config = state
	catalogMoved := old.Catalog.File != cfg.Catalog.File
	if catalogMoved {
		w.catalog = fileState{}
	}
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	if catalogMoved {
		w.checkCatalog()
	}
}

func (w *Watcher) checkCatalog() {
	w.mu.Lock()
	path := w.current.Catalog.File
	last := w.catalog
	w.mu.Unlock()
	if path == "" {
		return
	}

	_, state, changed, err := changedSince(path, last)
	if err != nil {
		slog.Warn("config watcher: cannot read catalog file", "path", path, "err", err)
		return
	}
	w.mu.Lock()
	w.catalog = state
	w.mu.Unlock()
	if changed && w.onCatalog != nil {
		slog.Info("config watcher: catalog file changed", "path", path)
		w.onCatalog(path)
	}
}

// changedSince reports whether path differs from last. The file is only
// hashed when its modification time moved.
func changedSince(path string, last fileState) ([]byte, fileState, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, last, false, err
	}
	if info.ModTime().Equal(last.mtime) {
		return nil, last, false, nil
	}
	data, state, err := readState(path)
	if err != nil {
		return nil, last, false, err
	}
	return data, state, state.hash != last.hash, nil
}

func readState(path string) ([]byte, fileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	data := buf.Bytes()
	return data, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
