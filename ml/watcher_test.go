package ml

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSnapshotWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	serving := NewPredictiveModel()

	watcher := NewSnapshotWatcher(serving, store, nil)
	watcher.debounce = 20 * time.Millisecond
	reloaded := make(chan *Metadata, 1)
	watcher.OnReload(func(meta *Metadata) { reloaded <- meta })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	features, target := churnTable(t, 30)
	trainer := fastModel(WithArtifactStore(store))
	meta, err := trainer.Train(features, target, Classification)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	select {
	case got := <-reloaded:
		if got.RunID != meta.RunID {
			t.Fatalf("reloaded run %s, expected %s", got.RunID, meta.RunID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("snapshot was not reloaded")
	}
	if serving.RunID() != meta.RunID {
		t.Fatalf("serving model not updated")
	}
}

// gatedStore blocks SaveSnapshot until release is closed, holding a Train
// between its state swap and its snapshot write.
type gatedStore struct {
	*FileStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) SaveSnapshot(snapshot *Snapshot) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.FileStore.SaveSnapshot(snapshot)
}

func clockAt(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestSnapshotWatcherSkipsOwnSnapshot(t *testing.T) {
	store := NewFileStore(t.TempDir())
	serving := fastModel(WithArtifactStore(store))
	features, target := churnTable(t, 30)
	meta, err := serving.Train(features, target, Classification)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	watcher := NewSnapshotWatcher(serving, store, nil)
	watcher.OnReload(func(*Metadata) { t.Fatalf("unexpected reload of own snapshot") })
	if watcher.reload() {
		t.Fatalf("reload reported a change for the serving run")
	}
	if serving.RunID() != meta.RunID {
		t.Fatalf("serving run changed to %s", serving.RunID())
	}
}

func TestSnapshotWatcherKeepsNewerModel(t *testing.T) {
	store := NewFileStore(t.TempDir())
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	features, target := churnTable(t, 30)

	older := fastModel(WithArtifactStore(store))
	older.now = clockAt(base)
	if _, err := older.Train(features, target, Classification); err != nil {
		t.Fatalf("Train older: %v", err)
	}

	serving := fastModel()
	serving.now = clockAt(base.Add(time.Hour))
	meta, err := serving.Train(features, target, Classification)
	if err != nil {
		t.Fatalf("Train newer: %v", err)
	}

	watcher := NewSnapshotWatcher(serving, store, nil)
	if watcher.reload() {
		t.Fatalf("older snapshot replaced the serving model")
	}
	if serving.RunID() != meta.RunID {
		t.Fatalf("expected serving run %s, got %s", meta.RunID, serving.RunID())
	}
}

func TestSnapshotWatcherDuringTrain(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	features, target := churnTable(t, 30)

	first := fastModel(WithArtifactStore(store))
	first.now = clockAt(base)
	if _, err := first.Train(features, target, Classification); err != nil {
		t.Fatalf("Train first: %v", err)
	}

	gate := &gatedStore{
		FileStore: store,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	serving := fastModel(WithArtifactStore(gate))
	serving.now = clockAt(base.Add(time.Hour))
	snapshot, err := store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if err := serving.Restore(snapshot); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	type trainResult struct {
		meta *Metadata
		err  error
	}
	trained := make(chan trainResult, 1)
	go func() {
		meta, err := serving.Train(features, target, Classification)
		trained <- trainResult{meta, err}
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("Train never reached the snapshot write")
	}

	// the new state is live but the first run's snapshot is still on disk
	watcher := NewSnapshotWatcher(serving, store, nil)
	reloaded := make(chan bool, 1)
	go func() { reloaded <- watcher.reload() }()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	result := <-trained
	if result.err != nil {
		t.Fatalf("Train: %v", result.err)
	}
	if <-reloaded {
		t.Fatalf("watcher replaced the model trained last")
	}
	if serving.RunID() != result.meta.RunID {
		t.Fatalf("expected serving run %s, got %s", result.meta.RunID, serving.RunID())
	}
}
