package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceInterval = 500 * time.Millisecond
	reloadAttempts   = 3
)

// Watch reloads the config file at path whenever it changes and hands each
// valid result to onChange. A file that fails to load is logged and the
// previous config stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// editors often replace the file, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	reload := func() {
		var cfg *Config
		var err error
		for i := 0; i < reloadAttempts; i++ {
			if i > 0 {
				time.Sleep(100 * time.Millisecond)
			}
			if cfg, err = Load(path); err == nil {
				break
			}
			logger.Warn("config reload failed", "attempt", i+1, "err", err)
		}
		if err != nil {
			logger.Error("config reload gave up, keeping previous config", "path", path, "err", err)
			return
		}
		logger.Info("config reloaded", "path", path, "sources", len(cfg.Sources))
		onChange(cfg)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "err", err)
		}
	}
}
