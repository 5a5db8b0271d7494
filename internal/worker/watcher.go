// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/frontlogic/taqbridge/internal/log"
)

// debounce collapses editor write bursts into one reload.
const debounce = 500 * time.Millisecond

// WatchScript watches the automation entry point and invokes reload after
// the file changes. A live run keeps its current process; only the next
// spawn picks up the new code, so reload should close the worker gracefully.
// Blocks until ctx is cancelled.
func WatchScript(ctx context.Context, script string, reload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("worker: script watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files, which drops a watch
	// registered on the file itself.
	dir := filepath.Dir(script)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("worker: watch %s: %w", dir, err)
	}

	logger := log.WithComponent("script-watcher")
	logger.Info().Str(log.FieldPath, script).Msg("watching automation script")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	target := filepath.Clean(script)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
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
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				logger.Info().Str(log.FieldPath, script).Msg("automation script changed, reloading worker")
				reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("script watcher error")
		}
	}
}
