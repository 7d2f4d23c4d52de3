package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads store whenever its file is written or replaced by another
// process, until ctx is cancelled. The directory is watched rather than the
// file because an atomic rename swaps the inode.
//
// onReload, if non-nil, is called after every reload attempt.
func Watch(ctx context.Context, store *Store, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch rewards directory %s: %w", dir, err)
	}
	slog.Debug("Watching rewards file", "path", store.Path())

	target := filepath.Clean(store.Path())
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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			err := store.Reload()
			if err != nil {
				slog.Warn("Failed to reload rewards file", "path", target, "error", err)
			} else {
				slog.Info("Rewards file reloaded", "path", target, "op", event.Op.String())
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Rewards watcher error", "error", err)
		}
	}
}
