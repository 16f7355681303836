package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// PolicyFunc receives a reloaded, validated policy.
type PolicyFunc func(PolicyConfig)

// PolicySource produces the effective policy after the watched file
// changed. It resolves every layer, so a key removed from the file falls
// back to whatever lies beneath it.
type PolicySource func() (PolicyConfig, error)

// Watcher reloads the policy section when the config file changes.
// Other sections require a restart.
type Watcher struct {
	path     string
	debounce time.Duration
	source   PolicySource
	onChange PolicyFunc
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	current PolicyConfig
}

// NewWatcher watches path. The directory is watched rather than the file
// so editors that replace the file on save are still seen. A nil source
// reads path over the defaults.
func NewWatcher(path string, initial PolicyConfig, source PolicySource, onChange PolicyFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if source == nil {
		source = func() (PolicyConfig, error) {
			cfg, err := LoadFromFile(abs)
			if err != nil {
				return PolicyConfig{}, err
			}
			return cfg.Policy, nil
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		source:   source,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
		current:  initial,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("Watching config for policy changes", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

// reload resolves the policy again and reports it when it changed and is
// valid.
func (w *Watcher) reload() {
	next, err := w.source()
	if err != nil {
		w.logger.Warn("Config reload failed, keeping current policy", "path", w.path, "error", err)
		return
	}
	if err := next.Validate(); err != nil {
		w.logger.Warn("Reloaded policy is invalid, keeping current policy", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	changed := next != w.current
	w.current = next
	w.mu.Unlock()

	if changed && w.onChange != nil {
		w.onChange(next)
	}
}

// Policy returns the last applied policy.
func (w *Watcher) Policy() PolicyConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
