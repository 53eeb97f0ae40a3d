package ml

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestStandardScaler(t *testing.T) {
	scaler := NewStandardScaler()
	out, err := scaler.FitTransform(
		[]string{"a", "constant", "gaps", "empty"},
		[][]float64{
			{1, 2, 3},
			{5, 5, 5},
			{2, math.NaN(), 4},
			{math.NaN(), math.NaN(), math.NaN()},
		},
	)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	std := math.Sqrt(2.0 / 3.0)
	want := []float64{-1 / std, 0, 1 / std}
	for i := range want {
		if math.Abs(out[0][i]-want[i]) > 1e-9 {
			t.Fatalf("column a row %d: expected %v, got %v", i, want[i], out[0][i])
		}
	}

	if scaler.Scale[1] != 1 {
		t.Fatalf("expected unit scale for zero variance, got %v", scaler.Scale[1])
	}
	for _, v := range out[1] {
		if v != 0 {
			t.Fatalf("expected zeros for constant column, got %v", out[1])
		}
	}

	if scaler.Mean[2] != 3 || out[2][1] != 0 {
		t.Fatalf("expected NaN to be imputed with the mean, got mean %v row %v", scaler.Mean[2], out[2][1])
	}
	if scaler.Mean[3] != 0 || scaler.Scale[3] != 1 {
		t.Fatalf("unexpected stats for empty column %v %v", scaler.Mean[3], scaler.Scale[3])
	}
}

func TestStandardScalerShapeMismatch(t *testing.T) {
	scaler := NewStandardScaler()
	if err := scaler.Fit([]string{"a"}, [][]float64{{1}, {2}}); err == nil {
		t.Fatalf("expected fit error")
	}
	if err := scaler.Fit([]string{"a"}, [][]float64{{1, 2}}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := scaler.Transform([][]float64{{1}, {2}}); err == nil {
		t.Fatalf("expected transform error")
	}
}

func TestStandardScalerRejectsInfinity(t *testing.T) {
	scaler := NewStandardScaler()
	err := scaler.Fit([]string{"a", "b"}, [][]float64{{1, 2}, {3, math.Inf(1)}})
	if !errors.Is(err, ErrInvalidDataset) || !strings.Contains(err.Error(), `"b"`) {
		t.Fatalf("expected ErrInvalidDataset naming column b, got %v", err)
	}

	if err := scaler.Fit([]string{"a"}, [][]float64{{1, 2, 3}}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := scaler.Transform([][]float64{{1, math.Inf(-1)}}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
