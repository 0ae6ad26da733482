package preview

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const changeOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher reports changes anywhere under a directory tree. fsnotify only
// watches single directories, so every subdirectory is added, including
// ones created later.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *zap.Logger
}

// NewWatcher starts watching root and all directories below it
func NewWatcher(root string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{fsw: fsw, logger: logger}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Events returns the raw event stream
func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.fsw.Events
}

// Errors returns watcher errors
func (w *Watcher) Errors() <-chan error {
	return w.fsw.Errors
}

// Observe must be called for every event. It extends the watch to new
// directories and reports whether ev is a content change.
func (w *Watcher) Observe(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory",
					zap.String("path", ev.Name),
					zap.Error(err))
			}
		}
	}
	return ev.Op&changeOps != 0
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
