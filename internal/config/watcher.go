package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const defaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the watched file. The hash decides
// whether the content changed; mtime and size only gate the read.
type fileStamp struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every changed, valid version to a
// callback. Polling survives editors that replace the file and network
// mounts without change notifications.
type Watcher struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onError  func(error)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithFs reads the file through fs instead of the OS filesystem.
func WithFs(fs afero.Fs) WatcherOption {
	return func(w *Watcher) {
		if fs != nil {
			w.fs = fs
		}
	}
}

// WithOnError is called when a changed file cannot be read or fails
// validation. The previous config stays current.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		fs:       afero.NewOsFs(),
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check polls the file once and reports whether a new config was applied.
// The callback runs without the watcher's lock held, so it may call
// [Watcher.Current].
func (w *Watcher) Check() bool {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		w.fail(fmt.Errorf("config: stat %q: %w", w.path, err))
		return false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.stamp.mtime) && info.Size() == w.stamp.size
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, stamp, err := w.load()
	if err != nil {
		// Remember the stamp so a broken file is reported once, not on
		// every tick.
		w.mu.Lock()
		w.stamp.mtime, w.stamp.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		w.fail(err)
		return false
	}

	w.mu.Lock()
	if stamp.hash == w.stamp.hash {
		w.stamp = stamp
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("config watcher: configuration changed", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

func (w *Watcher) fail(err error) {
	slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
	if w.onError != nil {
		w.onError(err)
	}
}

// load reads, expands, parses and validates the file.
func (w *Watcher) load() (*Config, fileStamp, error) {
	info, err := w.fs.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}, nil
}
