package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/config"
)

const reloadDebounce = 200 * time.Millisecond

// watchConfig reloads path on change and hands the result to apply. The
// directory is watched so editors that replace the file are seen. A config
// that fails to load is logged and skipped.
func watchConfig(ctx context.Context, path, profile string, apply func(*config.Config), log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		// The config dir may not exist yet; hot reload is then unavailable.
		log.Debug("not watching config", zap.String("dir", dir), zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			cfg, err := config.LoadConfig(path, profile)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
				continue
			}
			apply(cfg)
		}
	}
}
