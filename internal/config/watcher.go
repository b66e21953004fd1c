package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot identifies one version of the watched file.
type snapshot struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every valid new version to a
// callback together with the one it replaces. Polling also works on
// bind-mounted ConfigMaps, where inotify events are unreliable.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	// seen is the last file version examined, whether or not it was valid.
	seen snapshot

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

// NewWatcher loads path and returns a watcher for it. The file must hold a
// valid configuration. onChange may be nil.
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

	data, snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, snap
	return w, nil
}

// Current returns the most recently applied configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends [Watcher.Run]. It may be called more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Run calls [Watcher.Check] every interval until ctx is cancelled or Stop
// is called. It always returns nil so it can run in an errgroup.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			changed, err := w.Check()
			switch {
			case err != nil:
				slog.Warn("config reload failed, keeping previous configuration", "path", w.path, "err", err)
			case changed:
				slog.Info("config reloaded", "path", w.path)
			}
		}
	}
}

// Check examines the file once and reports whether a new configuration was
// applied. Files whose modification time or content did not change are
// skipped. A version that fails to parse or validate is returned as an error
// once; the previous configuration stays current until the file changes
// again. onChange runs on the calling goroutine, outside the watcher's lock.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	data, snap, err := w.read()
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	sameContent := snap.hash == w.seen.hash
	w.seen = snap
	w.mu.Unlock()
	if sameContent {
		return false, nil
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read returns the file content with its version.
func (w *Watcher) read() ([]byte, snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	return data, snapshot{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
