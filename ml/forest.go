package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// RandomForest is a bagged ensemble of decision trees. Classification
// averages leaf class distributions, regression averages leaf means.
type RandomForest struct {
	NEstimators     int            `json:"n_estimators"`
	MaxDepth        int            `json:"max_depth"`
	MinSamplesSplit int            `json:"min_samples_split"`
	MaxFeatures     int            `json:"max_features"`
	Bootstrap       bool           `json:"bootstrap"`
	RandomState     int64          `json:"random_state"`
	Classification  bool           `json:"classification"`
	NumClasses      int            `json:"num_classes"`
	Trees           []DecisionTree `json:"trees"`
	Importances     []float64      `json:"importances"`
}

var _ Estimator = (*RandomForest)(nil)

type RandomForestOption func(*RandomForest)

func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForest) { rf.NEstimators = n }
}

func WithMaxDepth(d int) RandomForestOption {
	return func(rf *RandomForest) { rf.MaxDepth = d }
}

func WithMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForest) { rf.MinSamplesSplit = n }
}

func WithMaxFeatures(n int) RandomForestOption {
	return func(rf *RandomForest) { rf.MaxFeatures = n }
}

func WithBootstrap(b bool) RandomForestOption {
	return func(rf *RandomForest) { rf.Bootstrap = b }
}

func WithRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForest) { rf.RandomState = seed }
}

func NewRandomForestRegressor(opts ...RandomForestOption) *RandomForest {
	return newRandomForest(false, 0, opts...)
}

// NewRandomForestClassifier builds a classifier over class codes 0..numClasses-1.
func NewRandomForestClassifier(numClasses int, opts ...RandomForestOption) *RandomForest {
	return newRandomForest(true, numClasses, opts...)
}

func newRandomForest(classification bool, numClasses int, opts ...RandomForestOption) *RandomForest {
	rf := &RandomForest{
		NEstimators:     100,
		MinSamplesSplit: 2,
		Bootstrap:       true,
		RandomState:     42,
		Classification:  classification,
		NumClasses:      numClasses,
	}
	for _, o := range opts {
		o(rf)
	}
	return rf
}

// Fit grows every tree concurrently. Each tree has its own seeded source so
// the result does not depend on scheduling.
func (rf *RandomForest) Fit(features [][]float64, targets []float64) error {
	n := len(features)
	if n == 0 {
		return fmt.Errorf("%w: no training rows", ErrInvalidDataset)
	}
	if len(targets) != n {
		return fmt.Errorf("%w: %d rows but %d targets", ErrInvalidDataset, n, len(targets))
	}
	if rf.NEstimators <= 0 {
		return errors.New("randomforest: n_estimators must be positive")
	}
	featureCount := len(features[0])
	maxFeatures := rf.MaxFeatures
	if rf.Classification && maxFeatures <= 0 {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(featureCount)))))
	}

	trees := make([]DecisionTree, rf.NEstimators)
	errs := make([]error, rf.NEstimators)
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i := 0; i < rf.NEstimators; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			treeRand := rand.New(rand.NewSource(rf.RandomState + int64(idx)))
			samples := make([]int, n)
			for j := range samples {
				if rf.Bootstrap {
					samples[j] = treeRand.Intn(n)
				} else {
					samples[j] = j
				}
			}

			tree := NewDecisionTree(TreeConfig{
				Classification:  rf.Classification,
				NumClasses:      rf.NumClasses,
				MaxDepth:        rf.MaxDepth,
				MinSamplesSplit: rf.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
			})
			if err := tree.Train(features, targets, samples, treeRand); err != nil {
				errs[idx] = err
				return
			}
			trees[idx] = *tree
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	rf.Trees = trees
	rf.Importances = aggregateImportance(trees, featureCount)
	return nil
}

// Predict returns a class code per row for classification, a value per row
// for regression.
func (rf *RandomForest) Predict(features [][]float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, ErrModelNotTrained
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if rf.Classification {
			proba, err := rf.predictProba(row)
			if err != nil {
				return nil, err
			}
			best := 0
			for c := range proba {
				if proba[c] > proba[best] {
					best = c
				}
			}
			out[i] = float64(best)
			continue
		}
		sum := 0.0
		for t := range rf.Trees {
			leaf, err := rf.Trees[t].Predict(row)
			if err != nil {
				return nil, err
			}
			sum += leaf.Value
		}
		out[i] = sum / float64(len(rf.Trees))
	}
	return out, nil
}

func (rf *RandomForest) predictProba(row []float64) ([]float64, error) {
	proba := make([]float64, rf.NumClasses)
	for t := range rf.Trees {
		leaf, err := rf.Trees[t].Predict(row)
		if err != nil {
			return nil, err
		}
		for c, p := range leaf.Distribution {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.Trees))
	}
	return proba, nil
}

// FeatureImportance is the mean decrease in impurity per feature, summing to
// one unless no tree ever split.
func (rf *RandomForest) FeatureImportance() []float64 {
	return append([]float64(nil), rf.Importances...)
}

func aggregateImportance(trees []DecisionTree, featureCount int) []float64 {
	total := make([]float64, featureCount)
	for t := range trees {
		imp := trees[t].Importance()
		sum := 0.0
		for _, v := range imp {
			sum += math.Max(v, 0)
		}
		if sum == 0 {
			continue
		}
		for j, v := range imp {
			total[j] += math.Max(v, 0) / sum
		}
	}
	sum := 0.0
	for _, v := range total {
		sum += v
	}
	if sum > 0 {
		for j := range total {
			total[j] /= sum
		}
	}
	return total
}
