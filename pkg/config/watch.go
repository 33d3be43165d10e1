package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads and re-validates a profile file on change and
// notifies a callback with the freshly selected profile. It is only
// meaningful when the server is not running with ReadOnly set (§6,
// §9): a read-only server never wires a Watcher.
type Watcher struct {
	path       string
	profile    string
	logger     zerolog.Logger
	watcher    *fsnotify.Watcher
	reloadFn   func(*Profile) error
	reloadWait time.Duration
}

// NewWatcher constructs a Watcher for the profile named profile
// within the file at path.
func NewWatcher(path, profile string, logger zerolog.Logger, reloadFn func(*Profile) error) *Watcher {
	return &Watcher{
		path:       path,
		profile:    profile,
		logger:     logger.With().Str("component", "config-watcher").Logger(),
		reloadFn:   reloadFn,
		reloadWait: 250 * time.Millisecond,
	}
}

// Start begins watching the config file for writes and
// runs until stop is closed. Reload is debounced so a burst of writes
// from an editor's save-and-rename dance only triggers one reload.
func (w *Watcher) Start(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	w.watcher = watcher

	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	go w.loop(stop)
	w.logger.Info().Str("path", w.path).Msg("watching config file for changes")
	return nil
}

func (w *Watcher) loop(stop <-chan struct{}) {
	defer w.watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.reloadWait, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path, w.profile)
	if err != nil {
		w.logger.Error().Err(err).Msg("config reload failed validation, keeping previous profile")
		return
	}
	if err := w.reloadFn(p); err != nil {
		w.logger.Error().Err(err).Msg("config reload callback failed")
		return
	}
	w.logger.Info().Str("profile", p.Name).Msg("config reloaded")
}

// Stop closes the underlying fsnotify watcher immediately.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
