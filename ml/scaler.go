package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler standardizes numeric columns with statistics captured at fit
// time. Missing values (NaN) are ignored by Fit and map to 0 in Transform.
// Infinite values are rejected by both.
type StandardScaler struct {
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

func (s *StandardScaler) Fit(columns []string, values [][]float64) error {
	if len(columns) != len(values) {
		return errors.New("columns/values length mismatch")
	}
	s.Columns = append([]string(nil), columns...)
	s.Mean = make([]float64, len(values))
	s.Scale = make([]float64, len(values))
	for j, col := range values {
		present := make([]float64, 0, len(col))
		for _, v := range col {
			if math.IsInf(v, 0) {
				return fmt.Errorf("%w: column %q contains infinite values", ErrInvalidDataset, columns[j])
			}
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			s.Mean[j] = 0
			s.Scale[j] = 1
			continue
		}
		mean, variance := stat.PopMeanVariance(present, nil)
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return nil
}

func (s *StandardScaler) FitTransform(columns []string, values [][]float64) ([][]float64, error) {
	if err := s.Fit(columns, values); err != nil {
		return nil, err
	}
	return s.Transform(values)
}

func (s *StandardScaler) column(j int) string {
	if j < len(s.Columns) {
		return s.Columns[j]
	}
	return fmt.Sprintf("#%d", j)
}

// Transform applies the stored statistics. values must be laid out in the
// same column order as at fit time.
func (s *StandardScaler) Transform(values [][]float64) ([][]float64, error) {
	if len(values) != len(s.Mean) {
		return nil, fmt.Errorf("scaler fitted on %d columns, got %d", len(s.Mean), len(values))
	}
	out := make([][]float64, len(values))
	for j, col := range values {
		scaled := make([]float64, len(col))
		for i, v := range col {
			if math.IsNaN(v) {
				continue
			}
			if math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: column %q contains infinite values", ErrSchemaMismatch, s.column(j))
			}
			scaled[i] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[j] = scaled
	}
	return out, nil
}
