package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// configWatcher re-reads the config file when it changes and applies the
// parts that can change at runtime. Today that is only logging.level; any
// other difference is reported and left for the next restart.
type configWatcher struct {
	path   string
	load   func() (Config, error) // file + env + flags, as at startup
	level  *slog.LevelVar
	logger *slog.Logger
	quiet  time.Duration

	current Config
}

func newConfigWatcher(path string, current Config, load func() (Config, error), level *slog.LevelVar, logger *slog.Logger) *configWatcher {
	return &configWatcher{
		path:    path,
		load:    load,
		level:   level,
		logger:  logger,
		quiet:   reloadDebounce,
		current: current,
	}
}

// Run watches until ctx is canceled.
//
// The directory is watched rather than the file so that editors which save
// by renaming a temp file over the original keep triggering reloads.
func (w *configWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(ExpandPath(w.path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w.logger.Info("watching config", "path", abs)

	// Bursts of events (write + chmod, or several writes) collapse into one
	// reload after the file has been quiet for w.quiet.
	debounced := debounce.New(w.quiet)
	reload := make(chan struct{}, 1)
	trigger := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounced(trigger)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-reload:
			w.reload()
		}
	}
}

// reload loads the config again and applies what it can.
func (w *configWatcher) reload() {
	next, err := w.load()
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		w.logger.Warn("config reload rejected, keeping current config", "error", err)
		return
	}

	if next.Logging.Level != w.current.Logging.Level {
		lvl, _ := parseLogLevel(next.Logging.Level) // validated above
		w.level.Set(lvl.slogLevel())
		w.logger.Info("log level changed", "from", w.current.Logging.Level, "to", next.Logging.Level)
	}

	if next.withoutLogging() != w.current.withoutLogging() {
		w.logger.Warn("config changed; restart detentd to apply settings other than logging.level")
	}

	w.current = next
}
