// pattern: Imperative Shell

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay coalesces the burst of events an editor produces on save.
const settleDelay = 100 * time.Millisecond

// Watch reloads the config at configPath whenever it changes and passes the
// result to onChange. The parent directory is watched so the file may be
// created, replaced or renamed into place. Watching stops when ctx is done.
func Watch(ctx context.Context, configPath string, onChange func(Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	target := filepath.Clean(configPath)
	go func() {
		defer watcher.Close()

		settle := time.NewTimer(settleDelay)
		settle.Stop()
		defer settle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					settle.Reset(settleDelay)
				}
			case <-settle.C:
				onChange(LoadFrom(configPath))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(Config{}, fmt.Errorf("config watcher: %w", err))
			}
		}
	}()
	return nil
}
