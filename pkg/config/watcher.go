package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchExtensions are the file suffixes that trigger the change callback.
// They cover documents, OpenAPI specifications and policy chain files.
var watchExtensions = []string{".yml", ".yaml", ".star", ".json"}

// Watcher invokes a callback when configuration files change on disk.
// Events are debounced so one save producing several writes triggers the
// callback once.
type Watcher struct {
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(logger zerolog.Logger) *Watcher {
	return &Watcher{
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		debounce: 500 * time.Millisecond,
	}
}

// Watch starts watching the given files and directories and invokes changeFn
// after changes settle. Directories are watched recursively. Watching stops
// when ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, paths []string, changeFn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.watcher = watcher

	// Add paths to watcher
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := w.watchDirectory(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	// Start watching in background
	go w.processEvents(ctx, changeFn)

	w.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching configuration paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.watcher.Add(path)
		}

		return nil
	})
}

// processEvents filters filesystem events and schedules the debounced
// callback.
func (w *Watcher) processEvents(ctx context.Context, changeFn func()) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !watchedFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			// Debounce the callback
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, changeFn)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// watchedFile reports whether a change to the named file triggers the
// callback.
func watchedFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range watchExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Stop stops watching for file changes.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
