package ml

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// fittedState is everything produced by one training run. It is never
// mutated after construction, so readers may use it without holding a lock.
type fittedState struct {
	schema   Schema
	encoders map[string]*LabelEncoder
	scaler   *StandardScaler
	trainer  *ModelTrainer
	metadata *Metadata
}

// PredictiveModel owns the preprocessing transforms and estimator of the one
// trained model. A nil state means the model is untrained.
type PredictiveModel struct {
	mu    sync.RWMutex
	state *fittedState

	trainMu sync.Mutex
	config  TrainerConfig
	store   ArtifactStore
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*PredictiveModel)

// WithArtifactStore persists metadata and a snapshot after every Train.
func WithArtifactStore(store ArtifactStore) Option {
	return func(m *PredictiveModel) { m.store = store }
}

func WithTrainerConfig(config TrainerConfig) Option {
	return func(m *PredictiveModel) { m.config = config }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *PredictiveModel) { m.logger = logger }
}

func NewPredictiveModel(opts ...Option) *PredictiveModel {
	m := &PredictiveModel{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *PredictiveModel) IsTrained() bool {
	return m.current() != nil
}

// Train fits a new model and replaces the current one. On a training error the
// previous model keeps serving. A *PersistenceError is returned together with
// the new metadata when only writing the artifacts failed.
func (m *PredictiveModel) Train(features *Table, target *Column, problem ProblemType) (*Metadata, error) {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	state, err := m.fit(features, target, problem)
	if err != nil {
		m.logger.Warn("training failed",
			zap.String("target", targetName(target)),
			zap.String("problem_type", string(problem)),
			zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.logger.Info("model trained",
		zap.String("run_id", state.metadata.RunID),
		zap.String("target", state.metadata.TargetColumn),
		zap.String("problem_type", string(problem)),
		zap.Int("rows", state.metadata.TrainingRows),
		zap.Strings("numerical", state.metadata.NumericalColumns),
		zap.Strings("categorical", state.metadata.CategoricalColumns))

	if err := m.persist(state); err != nil {
		m.logger.Error("persist model artifacts", zap.String("run_id", state.metadata.RunID), zap.Error(err))
		return state.metadata.clone(), err
	}
	return state.metadata.clone(), nil
}

func (m *PredictiveModel) fit(features *Table, target *Column, problem ProblemType) (*fittedState, error) {
	if _, err := ParseProblemType(string(problem)); err != nil {
		return nil, err
	}
	if features == nil || target == nil {
		return nil, fmt.Errorf("%w: features and target are required", ErrInvalidDataset)
	}
	if features.NumColumns() == 0 {
		return nil, fmt.Errorf("%w: no feature columns", ErrInvalidDataset)
	}
	if features.NumRows() == 0 {
		return nil, fmt.Errorf("%w: no training rows", ErrInvalidDataset)
	}
	if features.NumRows() != target.Len() {
		return nil, fmt.Errorf("%w: %d feature rows but %d target values", ErrInvalidDataset, features.NumRows(), target.Len())
	}
	if _, ok := features.Column(target.Name); ok {
		return nil, fmt.Errorf("%w: target column %q is also a feature", ErrInvalidDataset, target.Name)
	}

	schema := ClassifyColumns(features)

	encoders := make(map[string]*LabelEncoder, len(schema.Categorical()))
	encoded := make(map[string][]float64, len(schema.Categorical()))
	for _, name := range schema.Categorical() {
		col, _ := features.Column(name)
		enc := NewLabelEncoder(name)
		encoded[name] = codesToFloats(enc.FitTransform(col.Text()))
		encoders[name] = enc
	}

	numerical := schema.Numerical()
	raw := make([][]float64, len(numerical))
	for j, name := range numerical {
		col, _ := features.Column(name)
		raw[j] = col.Numbers
	}
	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(numerical, raw)
	if err != nil {
		return nil, err
	}

	matrix := assemble(schema, features.NumRows(), encoded, scaled)
	trainer := NewModelTrainer()
	if err := trainer.Fit(m.config, matrix, schema.Names(), target, problem); err != nil {
		return nil, err
	}

	meta := &Metadata{
		RunID:              uuid.NewString(),
		FeatureColumns:     schema.Names(),
		TargetColumn:       target.Name,
		ProblemType:        problem,
		CategoricalColumns: schema.Categorical(),
		NumericalColumns:   numerical,
		Classes:            trainer.Classes(),
		TrainingRows:       features.NumRows(),
		Timestamp:          m.now(),
	}
	return &fittedState{
		schema:   schema,
		encoders: encoders,
		scaler:   scaler,
		trainer:  trainer,
		metadata: meta,
	}, nil
}

// Predict runs inference with the preprocessing captured at training time.
// Extra columns are ignored and the rest are reordered to the training order.
func (m *PredictiveModel) Predict(features *Table) (*Predictions, error) {
	state := m.current()
	if state == nil {
		return nil, ErrModelNotTrained
	}
	if features == nil {
		return nil, fmt.Errorf("%w: no features given", ErrInvalidDataset)
	}
	aligned, err := features.Select(state.schema.Names())
	if err != nil {
		return nil, err
	}
	if aligned.NumRows() == 0 {
		return &Predictions{ProblemType: state.trainer.ProblemType}, nil
	}

	encoded := make(map[string][]float64, len(state.encoders))
	for _, name := range state.schema.Categorical() {
		col, _ := aligned.Column(name)
		codes, err := state.encoders[name].Transform(col.Text())
		if err != nil {
			return nil, err
		}
		encoded[name] = codesToFloats(codes)
	}

	numerical := state.schema.Numerical()
	raw := make([][]float64, len(numerical))
	for j, name := range numerical {
		col, _ := aligned.Column(name)
		values, err := col.Float()
		if err != nil {
			return nil, err
		}
		raw[j] = values
	}
	scaled, err := state.scaler.Transform(raw)
	if err != nil {
		return nil, err
	}

	return state.trainer.Predict(assemble(state.schema, aligned.NumRows(), encoded, scaled))
}

func (m *PredictiveModel) FeatureImportance() (map[string]float64, error) {
	state := m.current()
	if state == nil {
		return nil, ErrModelNotTrained
	}
	return state.trainer.FeatureImportance(), nil
}

func (m *PredictiveModel) Metadata() (*Metadata, error) {
	state := m.current()
	if state == nil {
		return nil, ErrModelNotTrained
	}
	return state.metadata.clone(), nil
}

// Snapshot captures the current model for persistence.
func (m *PredictiveModel) Snapshot() (*Snapshot, error) {
	state := m.current()
	if state == nil {
		return nil, ErrModelNotTrained
	}
	return state.snapshot(), nil
}

// Restore replaces the current model with a persisted one.
func (m *PredictiveModel) Restore(snapshot *Snapshot) error {
	if err := checkSnapshot(snapshot); err != nil {
		return err
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	m.restore(snapshot)
	return nil
}

// RestoreIfNewer restores snapshot only when it was trained after the model
// currently serving. The decision is taken while holding the training lock, so
// a snapshot read before an in-flight Train finishes cannot replace its result.
func (m *PredictiveModel) RestoreIfNewer(snapshot *Snapshot) (bool, error) {
	if err := checkSnapshot(snapshot); err != nil {
		return false, err
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	if state := m.current(); state != nil {
		if snapshot.Metadata.RunID == state.metadata.RunID ||
			!snapshot.Metadata.Timestamp.After(state.metadata.Timestamp) {
			return false, nil
		}
	}
	m.restore(snapshot)
	return true, nil
}

func checkSnapshot(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: nil snapshot", ErrPersistence)
	}
	if err := snapshot.validate(); err != nil {
		return &PersistenceError{Op: "restore", Path: "snapshot", Err: err}
	}
	return nil
}

// restore swaps in the snapshot state. trainMu must be held.
func (m *PredictiveModel) restore(snapshot *Snapshot) {
	state := &fittedState{
		schema:   snapshot.Schema,
		encoders: snapshot.Encoders,
		scaler:   snapshot.Scaler,
		trainer:  snapshot.Trainer,
		metadata: snapshot.Metadata.clone(),
	}
	if state.encoders == nil {
		state.encoders = map[string]*LabelEncoder{}
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.logger.Info("model restored",
		zap.String("run_id", state.metadata.RunID),
		zap.String("target", state.metadata.TargetColumn),
		zap.String("problem_type", string(state.metadata.ProblemType)))
}

// RunID identifies the training run currently serving, or "" when untrained.
func (m *PredictiveModel) RunID() string {
	state := m.current()
	if state == nil {
		return ""
	}
	return state.metadata.RunID
}

func (m *PredictiveModel) current() *fittedState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *PredictiveModel) persist(state *fittedState) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveMetadata(state.metadata); err != nil {
		return err
	}
	return m.store.SaveSnapshot(state.snapshot())
}

func (s *fittedState) snapshot() *Snapshot {
	return &Snapshot{
		Version:  snapshotVersion,
		Metadata: s.metadata.clone(),
		Schema:   s.schema,
		Encoders: s.encoders,
		Scaler:   s.scaler,
		Trainer:  s.trainer,
	}
}

// assemble lays out the preprocessed columns in schema order.
func assemble(schema Schema, rows int, encoded map[string][]float64, scaled [][]float64) *mat.Dense {
	matrix := mat.NewDense(rows, len(schema.Columns), nil)
	numericIdx := 0
	for j, spec := range schema.Columns {
		if spec.Kind.IsNumeric() {
			matrix.SetCol(j, scaled[numericIdx])
			numericIdx++
			continue
		}
		matrix.SetCol(j, encoded[spec.Name])
	}
	return matrix
}

func codesToFloats(codes []int) []float64 {
	out := make([]float64, len(codes))
	for i, c := range codes {
		out[i] = float64(c)
	}
	return out
}

func targetName(target *Column) string {
	if target == nil {
		return ""
	}
	return target.Name
}
