package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands every valid edit that changes a
// setting [Diff] tracks to a callback. Invalid edits are logged and the
// previous config stays current; edits that only touch comments or
// formatting are absorbed silently.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger
	onChange func(old, new *Config)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	rejected  error

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload and rejection messages.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it in the background. The file
// must be valid at start; later invalid edits are only logged.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		log:      slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("path", path)

	cfg, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Rejected returns the error of the last edit that failed to load, or nil
// once a later edit loads cleanly.
func (w *Watcher) Rejected() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rejected
}

// Stop ends polling. It is safe to call more than once.
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

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: cannot stat file", "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, mtime, err := w.load()

	w.mu.Lock()
	if err != nil {
		repeated := w.rejected != nil && w.rejected.Error() == err.Error()
		w.rejected = err
		// Retry on the next tick only once the file moves again.
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		if !repeated {
			w.log.Warn("config watcher: edit rejected, keeping previous config", "err", err)
		}
		return
	}
	w.rejected = nil
	w.lastMtime = mtime
	old := w.current
	d := Diff(old, cfg)
	if d.IsEmpty() {
		w.mu.Unlock()
		return
	}
	w.current = cfg
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded",
		"log_level_changed", d.LogLevelChanged,
		"conversation_changed", d.ConversationChanged,
		"silence_changed", d.SilencePromptsChanged,
		"restart_required", d.RestartRequired,
	)

	// Outside the lock: the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load reads, parses and validates the file and returns the config with
// the modification time it was read at.
func (w *Watcher) load() (*Config, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, time.Time{}, err
	}
	return cfg, info.ModTime(), nil
}
