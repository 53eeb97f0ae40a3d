package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SnapshotWatcher reloads the model whenever another process, such as the
// offline trainer, writes a new snapshot into the store directory.
type SnapshotWatcher struct {
	model    *PredictiveModel
	store    *FileStore
	logger   *zap.Logger
	debounce time.Duration
	onReload func(*Metadata)
}

func NewSnapshotWatcher(model *PredictiveModel, store *FileStore, logger *zap.Logger) *SnapshotWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotWatcher{
		model:    model,
		store:    store,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// OnReload registers a callback run after each successful reload.
func (w *SnapshotWatcher) OnReload(fn func(*Metadata)) {
	w.onReload = fn
}

// Run blocks until ctx is cancelled.
func (w *SnapshotWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.store.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.store.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.store.Dir, err)
	}
	w.logger.Info("watching model snapshots", zap.String("dir", w.store.Dir))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != SnapshotFile {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		case <-timer.C:
			w.reload()
		}
	}
}

// reload restores the snapshot on disk unless the serving model is the same
// run or a later one. It reports whether the model changed.
func (w *SnapshotWatcher) reload() bool {
	snapshot, err := w.store.LoadSnapshot()
	if err != nil {
		w.logger.Warn("reload snapshot", zap.Error(err))
		return false
	}
	restored, err := w.model.RestoreIfNewer(snapshot)
	if err != nil {
		w.logger.Warn("restore snapshot", zap.Error(err))
		return false
	}
	if !restored {
		w.logger.Debug("snapshot not newer than serving model",
			zap.String("run_id", snapshot.Metadata.RunID),
			zap.String("serving_run_id", w.model.RunID()))
		return false
	}
	if w.onReload != nil {
		w.onReload(snapshot.Metadata.clone())
	}
	return true
}
