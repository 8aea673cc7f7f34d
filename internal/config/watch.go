package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchEngine reloads the engine: block of path whenever the file changes and
// calls onChange with the result. It runs until ctx is cancelled. A reload
// that fails to parse or validate is logged and the previous settings stay
// active.
func WatchEngine(ctx context.Context, path string, base EngineConfig, logger *slog.Logger, onChange func(EngineConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory so atomic saves (write temp file, rename) are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)
	logger.Info("watching engine config", "path", path)

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			engine, err := LoadEngineFile(path, base)
			if err != nil {
				logger.Error("engine config reload failed, keeping previous settings", "path", path, "error", err)
				continue
			}
			logger.Info("engine config reloaded", "path", path)
			onChange(engine)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("engine config watcher error", "error", err)
		}
	}
}
