package ml

import "time"

// Metadata describes the fitted configuration of a training run. It is written
// next to the snapshot for inspection and is not needed to serve predictions.
type Metadata struct {
	RunID              string      `json:"run_id"`
	FeatureColumns     []string    `json:"feature_columns"`
	TargetColumn       string      `json:"target_column"`
	ProblemType        ProblemType `json:"problem_type"`
	CategoricalColumns []string    `json:"categorical_columns"`
	NumericalColumns   []string    `json:"numerical_columns"`
	Classes            []string    `json:"classes,omitempty"`
	TrainingRows       int         `json:"training_rows"`
	Timestamp          time.Time   `json:"timestamp"`
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.FeatureColumns = copyStrings(m.FeatureColumns)
	out.CategoricalColumns = copyStrings(m.CategoricalColumns)
	out.NumericalColumns = copyStrings(m.NumericalColumns)
	out.Classes = copyStrings(m.Classes)
	return &out
}

func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
