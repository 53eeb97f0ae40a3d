package ml

import (
	"errors"
	"io/fs"
	"os"
)

// LoadModel builds a model persisting into dir and restores the snapshot
// found there. A directory without a snapshot yields an untrained model.
func LoadModel(dir string, opts ...Option) (*PredictiveModel, error) {
	store := NewFileStore(dir)
	model := NewPredictiveModel(append([]Option{WithArtifactStore(store)}, opts...)...)

	if _, err := os.Stat(store.SnapshotPath()); errors.Is(err, fs.ErrNotExist) {
		return model, nil
	}
	snapshot, err := store.LoadSnapshot()
	if err != nil {
		return model, err
	}
	if err := model.Restore(snapshot); err != nil {
		return model, err
	}
	return model, nil
}
