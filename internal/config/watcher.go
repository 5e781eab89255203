package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window for coalescing rapid config.json writes.
// Editors often write a file with several events in quick succession.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the persisted snapshot when config.json is modified
// outside the server (manual edits, sidecar tooling).
type Watcher struct {
	store    *Store
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for dir/config.json feeding the store.
func NewWatcher(store *Store, dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// Run watches until the context is cancelled. Invalid or transiently
// missing files are logged and skipped; the published snapshot only
// changes when a valid one is read.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// Watch the directory, not the file: rename-based saves replace the
	// inode and would silently detach a file watch.
	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	target := filepath.Join(w.dir, ConfigFileName)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	snap, err := Load(w.dir)
	if err != nil {
		w.logger.Warn("ignoring config reload", "dir", w.dir, "error", err)
		return
	}

	current := w.store.Get()
	// Frozen fields stay frozen even through file edits.
	snap.EmbeddingModel = current.EmbeddingModel
	snap.EmbeddingDimension = current.EmbeddingDimension
	snap.VectorDBPath = current.VectorDBPath
	snap.CollectionName = current.CollectionName

	if snap == *current {
		return
	}
	w.store.replace(snap)
	w.logger.Info("config reloaded from disk", "config", snap.String())
}
