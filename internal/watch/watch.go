// Package watch reloads the configuration when its file changes and hands
// valid configurations to the rest of the program.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/rwd-iot/sensornode/internal/bus"
	"github.com/rwd-iot/sensornode/internal/config"
)

// Loader produces a fresh configuration from its sources.
type Loader func() (*config.Config, error)

// Watcher watches one config file. Valid reloads are published on the bus;
// invalid ones are logged and the previous configuration stays current.
type Watcher struct {
	path     string
	load     Loader
	bus      *bus.Bus
	debounce time.Duration
	logger   *logrus.Logger

	mu      sync.RWMutex
	current *config.Config
}

// New creates a watcher for path.
func New(path string, load Loader, b *bus.Bus, logger *logrus.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		load:     load,
		bus:      b,
		debounce: config.WatchDebounce,
		logger:   logger,
	}
}

// SetDebounce changes how long the watcher waits for a burst of file events
// to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Current returns the last valid configuration, nil before the first one.
func (w *Watcher) Current() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload loads and validates the configuration. On success it becomes
// current and is published unless it equals the current one; on failure the
// current one is kept.
func (w *Watcher) Reload() error {
	cfg, err := w.load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	same := cfg.Equal(w.current)
	w.current = cfg
	w.mu.Unlock()
	if same {
		w.logger.Debug("Configuration unchanged")
		return nil
	}

	for _, warning := range cfg.Warnings() {
		w.logger.Warn(warning)
	}
	w.bus.Publish(cfg)
	return nil
}

// Run loads the configuration once and then reloads it on every change of
// the file until ctx is cancelled. The directory is watched rather than the
// file so that editors and atomic writers replacing the file are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.WithField("path", w.path).Info("Watching config file")

	w.reload("initial")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Config watcher stopped")
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("Config file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload("change")

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) reload(reason string) {
	if err := w.Reload(); err != nil {
		w.logger.WithError(err).WithField("reason", reason).Error("Config reload failed, keeping previous configuration")
		return
	}
	w.logger.WithField("reason", reason).Info("Configuration loaded")
}
