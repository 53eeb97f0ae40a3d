package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// TrainerConfig carries the forest hyperparameters. Zero values fall back to
// the forest defaults.
type TrainerConfig struct {
	NEstimators     int   `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth        int   `yaml:"max_depth" json:"max_depth"`
	MinSamplesSplit int   `yaml:"min_samples_split" json:"min_samples_split"`
	RandomState     int64 `yaml:"random_state" json:"random_state"`
}

func (c TrainerConfig) options() []RandomForestOption {
	var opts []RandomForestOption
	if c.NEstimators > 0 {
		opts = append(opts, WithNEstimators(c.NEstimators))
	}
	if c.MaxDepth > 0 {
		opts = append(opts, WithMaxDepth(c.MaxDepth))
	}
	if c.MinSamplesSplit > 0 {
		opts = append(opts, WithMinSamplesSplit(c.MinSamplesSplit))
	}
	if c.RandomState != 0 {
		opts = append(opts, WithRandomState(c.RandomState))
	}
	return opts
}

// ModelTrainer selects the estimator for a problem type, fits it and maps
// class codes back to labels.
type ModelTrainer struct {
	ProblemType   ProblemType   `json:"problem_type"`
	FeatureNames  []string      `json:"feature_names"`
	TargetEncoder *LabelEncoder `json:"target_encoder,omitempty"`
	Forest        *RandomForest `json:"forest"`
}

func NewModelTrainer() *ModelTrainer {
	return &ModelTrainer{}
}

func (t *ModelTrainer) Fit(config TrainerConfig, features *mat.Dense, featureNames []string, target *Column, problem ProblemType) error {
	rows, cols := features.Dims()
	if rows != target.Len() {
		return fmt.Errorf("%w: %d feature rows but %d target values", ErrInvalidDataset, rows, target.Len())
	}
	if cols != len(featureNames) {
		return fmt.Errorf("%w: %d feature columns but %d names", ErrInvalidDataset, cols, len(featureNames))
	}

	var (
		y      []float64
		forest *RandomForest
		enc    *LabelEncoder
	)
	switch problem {
	case Classification:
		enc = NewLabelEncoder(target.Name)
		codes := enc.FitTransform(target.Text())
		y = make([]float64, len(codes))
		for i, c := range codes {
			y[i] = float64(c)
		}
		forest = NewRandomForestClassifier(enc.NumClasses(), config.options()...)
	case Regression:
		values, err := target.Float()
		if err != nil {
			return fmt.Errorf("%w: regression target %q must be numeric", ErrInvalidDataset, target.Name)
		}
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: regression target %q has missing values", ErrInvalidDataset, target.Name)
			}
		}
		y = values
		forest = NewRandomForestRegressor(config.options()...)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedProblemType, problem)
	}

	if err := forest.Fit(denseRows(features), y); err != nil {
		return err
	}

	t.ProblemType = problem
	t.FeatureNames = append([]string(nil), featureNames...)
	t.TargetEncoder = enc
	t.Forest = forest
	return nil
}

func (t *ModelTrainer) Predict(features *mat.Dense) (*Predictions, error) {
	if t.Forest == nil {
		return nil, ErrModelNotTrained
	}
	if _, cols := features.Dims(); cols != len(t.FeatureNames) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrSchemaMismatch, len(t.FeatureNames), cols)
	}
	raw, err := t.Forest.Predict(denseRows(features))
	if err != nil {
		return nil, err
	}
	if t.ProblemType != Classification {
		return &Predictions{ProblemType: Regression, Values: raw}, nil
	}
	codes := make([]int, len(raw))
	for i, v := range raw {
		codes[i] = int(v)
	}
	labels, err := t.TargetEncoder.InverseTransform(codes)
	if err != nil {
		return nil, err
	}
	return &Predictions{ProblemType: Classification, Labels: labels}, nil
}

// FeatureImportance maps each original feature to its importance score.
func (t *ModelTrainer) FeatureImportance() map[string]float64 {
	scores := t.Forest.FeatureImportance()
	out := make(map[string]float64, len(t.FeatureNames))
	for i, name := range t.FeatureNames {
		if i < len(scores) {
			out[name] = scores[i]
		} else {
			out[name] = 0
		}
	}
	return out
}

// Classes returns the original target labels seen during classification fit.
func (t *ModelTrainer) Classes() []string {
	if t.TargetEncoder == nil {
		return nil
	}
	return append([]string(nil), t.TargetEncoder.Classes...)
}

func denseRows(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = m.RawRowView(i)
	}
	return out
}
