// internal/config/watch.go
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 200 * time.Millisecond

// Watch reloads the config file on change and invokes onChange with each
// successfully validated result. Invalid intermediate states are logged and
// skipped; the previous configuration stays in effect.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, configPath string, logger *zap.Logger, onChange func(*Config)) error {
	if configPath == "" {
		return fmt.Errorf("watch requires an explicit config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory: editors replace files on save, which
	// drops inode-level watches on the file itself.
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(configPath)
			if err != nil {
				logger.Warn("config reload failed, keeping previous",
					zap.String("path", configPath),
					zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", configPath))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
