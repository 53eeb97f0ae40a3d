package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xh3b4sd/tracer"
)

const (
	MetadataFile = "model_metadata.json"
	SnapshotFile = "trained_model.json"

	snapshotVersion = 1
)

// Snapshot is the serialized form of a trained pipeline: everything Predict
// needs, plus the metadata describing it.
type Snapshot struct {
	Version  int                      `json:"version"`
	Metadata *Metadata                `json:"metadata"`
	Schema   Schema                   `json:"schema"`
	Encoders map[string]*LabelEncoder `json:"encoders"`
	Scaler   *StandardScaler          `json:"scaler"`
	Trainer  *ModelTrainer            `json:"trainer"`
}

func (s *Snapshot) validate() error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if s.Metadata == nil || s.Scaler == nil || s.Trainer == nil || s.Trainer.Forest == nil {
		return fmt.Errorf("incomplete snapshot")
	}
	for _, name := range s.Schema.Categorical() {
		if _, ok := s.Encoders[name]; !ok {
			return fmt.Errorf("snapshot has no encoder for column %q", name)
		}
	}
	if len(s.Scaler.Mean) != len(s.Schema.Numerical()) {
		return fmt.Errorf("snapshot scaler covers %d columns, schema has %d", len(s.Scaler.Mean), len(s.Schema.Numerical()))
	}
	if len(s.Trainer.FeatureNames) != len(s.Schema.Columns) {
		return fmt.Errorf("snapshot trainer has %d features, schema has %d", len(s.Trainer.FeatureNames), len(s.Schema.Columns))
	}
	if s.Trainer.Forest.Classification != (s.Trainer.ProblemType == Classification) {
		return fmt.Errorf("snapshot forest does not match problem type %q", s.Trainer.ProblemType)
	}
	if s.Trainer.ProblemType == Classification {
		if s.Trainer.TargetEncoder == nil {
			return fmt.Errorf("classification snapshot has no target encoder")
		}
		if s.Trainer.Forest.NumClasses != s.Trainer.TargetEncoder.NumClasses() {
			return fmt.Errorf("snapshot forest has %d classes, target encoder has %d",
				s.Trainer.Forest.NumClasses, s.Trainer.TargetEncoder.NumClasses())
		}
	}
	return nil
}

// ArtifactStore persists the artifacts of a training run.
type ArtifactStore interface {
	SaveMetadata(meta *Metadata) error
	SaveSnapshot(snapshot *Snapshot) error
}

// FileStore keeps metadata and snapshot as JSON files in a single directory.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (fs *FileStore) MetadataPath() string { return filepath.Join(fs.Dir, MetadataFile) }
func (fs *FileStore) SnapshotPath() string { return filepath.Join(fs.Dir, SnapshotFile) }

func (fs *FileStore) SaveMetadata(meta *Metadata) error {
	return fs.writeJSON(fs.MetadataPath(), meta)
}

func (fs *FileStore) SaveSnapshot(snapshot *Snapshot) error {
	return fs.writeJSON(fs.SnapshotPath(), snapshot)
}

func (fs *FileStore) LoadMetadata() (*Metadata, error) {
	var meta Metadata
	if err := fs.readJSON(fs.MetadataPath(), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (fs *FileStore) LoadSnapshot() (*Snapshot, error) {
	var snapshot Snapshot
	if err := fs.readJSON(fs.SnapshotPath(), &snapshot); err != nil {
		return nil, err
	}
	if err := snapshot.validate(); err != nil {
		return nil, &PersistenceError{Op: "load", Path: fs.SnapshotPath(), Err: err}
	}
	return &snapshot, nil
}

// writeJSON writes through a temp file and renames it into place so readers
// never observe a partial file.
func (fs *FileStore) writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(fs.Dir, 0o755); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: tracer.Mask(err)}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "encode", Path: path, Err: tracer.Mask(err)}
	}
	tmp, err := os.CreateTemp(fs.Dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: tracer.Mask(err)}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "write", Path: path, Err: tracer.Mask(err)}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: tracer.Mask(err)}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: tracer.Mask(err)}
	}
	return nil
}

func (fs *FileStore) readJSON(path string, v interface{}) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return &PersistenceError{Op: "read", Path: path, Err: tracer.Mask(err)}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &PersistenceError{Op: "decode", Path: path, Err: tracer.Mask(err)}
	}
	return nil
}
