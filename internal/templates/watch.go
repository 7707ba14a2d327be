package templates

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called after a file change under the library root
// invalidated at least one cached set.
type ChangeCallback func(path string, dropped int)

// Watch starts an fsnotify watcher on the library's storage root and
// invalidates cached template sets whose files change, until ctx is
// cancelled. Directories are watched recursively, including ones created
// after start; sets re-load lazily on next access.
func Watch(ctx context.Context, lib *Library, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := lib.store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("templates: watcher started", slog.String("root", root))

	invalidate := func(abs string, op fsnotify.Op) {
		rel, relErr := lib.store.Rel(abs)
		if relErr != nil {
			return
		}
		dropped := lib.Invalidate(rel)
		if dropped == 0 {
			return
		}
		logger.Info("templates: invalidated",
			slog.String("path", rel),
			slog.String("op", op.String()),
			slog.Int("sets", dropped))
		if cb != nil {
			cb(rel, dropped)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("templates: watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// New directories join the watch; files already inside them
			// may have been written before the watch was added.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("templates: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("templates: watching new dir", slog.String("path", ev.Name))
					_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, walkErr error) error {
						if walkErr == nil && !d.IsDir() {
							invalidate(p, fsnotify.Create)
						}
						return nil
					})
					continue
				}
			}
			invalidate(ev.Name, ev.Op)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("templates: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
