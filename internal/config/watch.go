package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events an editor produces when
// it saves a file.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch reports changes to the config file at path. The parent directory is
// watched rather than the file, because editors often replace the file
// instead of writing it in place, and the file may not exist yet. Each
// notification on the returned channel stands for one or more changes that
// settled for the debounce window. The channel is closed when ctx ends.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger) (<-chan struct{}, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()

		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}

	out := make(chan struct{}, 1)

	go watchLoop(ctx, watcher, filepath.Clean(path), debounce, out, logger)

	return out, nil
}

func watchLoop(
	ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration,
	out chan<- struct{}, logger *slog.Logger,
) {
	defer close(out)
	defer watcher.Close()

	timer := time.NewTimer(debounce)
	timer.Stop() // start idle, no events yet
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != path || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}

			logger.Debug("config file event",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			select {
			case out <- struct{}{}:
			default:
				// A change is already pending delivery.
			}
		}
	}
}
