package bindingfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher re-applies the bindings file whenever it changes on disk.
type Watcher struct {
	path     string
	applier  *Applier
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, applier *Applier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		applier:  applier,
		debounce: defaultDebounce,
		logger:   logger.With(slog.String("component", "bindingfile_watcher")),
	}
}

// Run applies the file once and then after every change until ctx is
// done. The parent directory is watched so that editors replacing the
// file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reload(ctx)

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-reload:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	declared, err := Load(w.path)
	if err != nil {
		// Keep the current bindings until the file is fixed.
		w.logger.Error("bindings file is invalid, keeping current bindings",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	changes, err := w.applier.Apply(ctx, declared)
	if err != nil {
		w.logger.Error("failed to apply some bindings",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
	}
	w.logger.Info("bindings file applied",
		slog.Int("declared", len(declared)),
		slog.Int("linked", changes.Linked),
		slog.Int("unlinked", changes.Unlinked),
		slog.Int("relinked", changes.Relinked))
}
