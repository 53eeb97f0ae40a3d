package ml

import (
	"fmt"
	"strings"
)

type ProblemType string

const (
	Regression     ProblemType = "regression"
	Classification ProblemType = "classification"
)

func ParseProblemType(s string) (ProblemType, error) {
	switch ProblemType(strings.ToLower(strings.TrimSpace(s))) {
	case Regression:
		return Regression, nil
	case Classification:
		return Classification, nil
	default:
		return "", fmt.Errorf("%w: %q (expected regression or classification)", ErrUnsupportedProblemType, s)
	}
}

// Estimator is the fit/predict capability behind the model trainer.
type Estimator interface {
	Fit(features [][]float64, targets []float64) error
	Predict(features [][]float64) ([]float64, error)
	FeatureImportance() []float64
}

// Predictions holds numeric values for regression or original labels for
// classification.
type Predictions struct {
	ProblemType ProblemType
	Values      []float64
	Labels      []string
}

func (p *Predictions) Len() int {
	if p.ProblemType == Classification {
		return len(p.Labels)
	}
	return len(p.Values)
}

// Interfaces returns the predictions as a JSON friendly slice.
func (p *Predictions) Interfaces() []interface{} {
	out := make([]interface{}, p.Len())
	for i := range out {
		if p.ProblemType == Classification {
			out[i] = p.Labels[i]
		} else {
			out[i] = p.Values[i]
		}
	}
	return out
}

func (p *Predictions) Head(n int) *Predictions {
	if n > p.Len() {
		n = p.Len()
	}
	out := &Predictions{ProblemType: p.ProblemType}
	if p.ProblemType == Classification {
		out.Labels = p.Labels[:n]
	} else {
		out.Values = p.Values[:n]
	}
	return out
}
