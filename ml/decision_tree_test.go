package ml

import (
	"errors"
	"math"
	"testing"
)

func TestDecisionTreeClassification(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []float64{0, 0, 2, 2}

	tree := NewDecisionTree(TreeConfig{Classification: true, NumClasses: 3})
	if err := tree.Train(features, labels, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leaf, err := tree.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leaf.Value != 0 {
		t.Fatalf("expected class 0, got %v", leaf.Value)
	}
	if leaf.Distribution[0] != 1 {
		t.Fatalf("expected pure leaf, got %v", leaf.Distribution)
	}
	leaf, err = tree.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leaf.Value != 2 {
		t.Fatalf("expected class 2, got %v", leaf.Value)
	}
}

func TestDecisionTreeRegression(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	targets := []float64{5, 5, 5, 20, 20, 20}

	tree := NewDecisionTree(TreeConfig{})
	if err := tree.Train(features, targets, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("expected one split and two leaves, got %d nodes", len(tree.Nodes))
	}
	root := tree.Nodes[0]
	if root.Threshold <= 3 || root.Threshold >= 10 {
		t.Fatalf("expected threshold between 3 and 10, got %v", root.Threshold)
	}
	for _, tc := range []struct {
		x    float64
		want float64
	}{{0, 5}, {6.4, 5}, {7, 20}, {100, 20}} {
		leaf, err := tree.Predict([]float64{tc.x})
		if err != nil {
			t.Fatalf("predict %v: %v", tc.x, err)
		}
		if leaf.Value != tc.want {
			t.Fatalf("predict %v: expected %v, got %v", tc.x, tc.want, leaf.Value)
		}
	}
	if imp := tree.Importance(); imp[0] <= 0 {
		t.Fatalf("expected positive importance, got %v", imp)
	}
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	targets := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	tree := NewDecisionTree(TreeConfig{MaxDepth: 1})
	if err := tree.Train(features, targets, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("expected depth one tree, got %d nodes", len(tree.Nodes))
	}
}

func TestDecisionTreeConstantTarget(t *testing.T) {
	tree := NewDecisionTree(TreeConfig{})
	if err := tree.Train([][]float64{{1}, {2}, {3}}, []float64{4, 4, 4}, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 1 || !tree.Nodes[0].IsLeaf {
		t.Fatalf("expected a single leaf, got %+v", tree.Nodes)
	}
	leaf, _ := tree.Predict([]float64{99})
	if math.Abs(leaf.Value-4) > 1e-12 {
		t.Fatalf("expected 4, got %v", leaf.Value)
	}
}

func TestDecisionTreeErrors(t *testing.T) {
	tree := NewDecisionTree(TreeConfig{})
	if _, err := tree.Predict([]float64{1}); !errors.Is(err, ErrModelNotTrained) {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
	if err := tree.Train(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error on empty input")
	}
	if err := tree.Train([][]float64{{1}}, []float64{1, 2}, nil, nil); err == nil {
		t.Fatalf("expected size mismatch error")
	}
	if err := NewDecisionTree(TreeConfig{Classification: true}).Train([][]float64{{1}}, []float64{0}, nil, nil); err == nil {
		t.Fatalf("expected error without classes")
	}
}
