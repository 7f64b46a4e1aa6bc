package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"upright/internal/imagefmt"
	"upright/internal/logging"
)

// Watcher reports create and write events for supported images anywhere
// under root.
type Watcher struct {
	root   string
	sink   Sink
	logger *slog.Logger
	fsw    *fsnotify.Watcher
}

// NewWatcher subscribes to root and every directory below it. Events are
// only delivered once Run is called, but the kernel starts queueing them
// immediately, so a sweep started after NewWatcher returns cannot miss files.
func NewWatcher(root string, sink Sink, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:   root,
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "watcher"),
		fsw:    fsw,
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.handleError(ctx, err)
		}
	}
}

// WatchList returns the directories currently subscribed.
func (w *Watcher) WatchList() []string {
	return w.fsw.WatchList()
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.adoptDirectory(ctx, event.Name)
			return
		}
		w.emit(event.Name, KindCreate)
	case event.Has(fsnotify.Write):
		w.emit(event.Name, KindWrite)
	}
}

// adoptDirectory watches a directory created after startup and emits the
// files already inside it, which may have landed before the watch existed.
func (w *Watcher) adoptDirectory(ctx context.Context, dir string) {
	if err := w.addTree(dir); err != nil {
		logging.WarnWithContext(w.logger, "failed to watch new directory", "watch_add_failed",
			logging.String(logging.FieldPath, dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or check permissions"),
			logging.String(logging.FieldImpact, "files in this directory are found only by the next sweep"),
		)
	}
	if _, err := Sweep(ctx, dir, KindCreate, w.forward); err != nil && ctx.Err() == nil {
		w.logger.Debug("new directory sweep incomplete", logging.String(logging.FieldPath, dir), logging.Error(err))
	}
}

func (w *Watcher) handleError(ctx context.Context, err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		logging.WarnWithContext(w.logger, "filesystem event queue overflowed; resweeping input", "watch_overflow",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_queued_events"),
			logging.String(logging.FieldImpact, "events were lost; a full sweep recovers them"),
		)
		n, sweepErr := Sweep(ctx, w.root, KindSweep, w.forward)
		if sweepErr != nil && ctx.Err() == nil {
			logging.ErrorWithContext(w.logger, "overflow resweep failed", "sweep_failed",
				logging.String(logging.FieldPath, w.root),
				logging.Error(sweepErr),
			)
			return
		}
		w.logger.Info("overflow resweep complete", logging.Int("discovered", n))
		return
	}
	logging.WarnWithContext(w.logger, "filesystem watcher error", "watch_error",
		logging.Error(err),
		logging.String(logging.FieldImpact, "some events may have been missed"),
	)
}

func (w *Watcher) emit(path string, kind Kind) {
	if !imagefmt.IsSupported(path) {
		return
	}
	if discovery, ok := newDiscovery(w.root, path, kind); ok {
		w.sink(discovery)
	}
}

func (w *Watcher) forward(d Discovery) {
	// Sweeps of subdirectories report paths relative to that subdirectory.
	if discovery, ok := newDiscovery(w.root, d.Path, d.Kind); ok {
		w.sink(discovery)
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Close stops the underlying subscription. Run returns afterwards.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
