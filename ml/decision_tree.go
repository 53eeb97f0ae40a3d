package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// TreeNode is one node of a flattened tree. Children are indexes into the
// owning tree's node slice.
type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	IsLeaf       bool      `json:"is_leaf"`
	Samples      int       `json:"samples"`
	Value        float64   `json:"value"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// TreeConfig controls how a single tree grows. MaxDepth <= 0 means unlimited,
// MaxFeatures <= 0 means every feature is considered at each split.
type TreeConfig struct {
	Classification  bool `json:"classification"`
	NumClasses      int  `json:"num_classes"`
	MaxDepth        int  `json:"max_depth"`
	MinSamplesSplit int  `json:"min_samples_split"`
	MaxFeatures     int  `json:"max_features"`
}

// DecisionTree is a CART tree: Gini splits for classification, squared error
// splits for regression.
type DecisionTree struct {
	Config TreeConfig `json:"config"`
	Nodes  []TreeNode `json:"nodes"`

	importance []float64
	features   [][]float64
	targets    []float64
	rng        *rand.Rand
}

func NewDecisionTree(config TreeConfig) *DecisionTree {
	if config.MinSamplesSplit < 2 {
		config.MinSamplesSplit = 2
	}
	return &DecisionTree{Config: config}
}

// Train grows the tree over the given sample indexes, which may repeat when
// bootstrapping. Targets hold class codes for classification.
func (dt *DecisionTree) Train(features [][]float64, targets []float64, samples []int, rng *rand.Rand) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	if dt.Config.Classification && dt.Config.NumClasses <= 0 {
		return errors.New("classification tree needs at least one class")
	}
	if samples == nil {
		samples = make([]int, len(features))
		for i := range samples {
			samples[i] = i
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	dt.features = features
	dt.targets = targets
	dt.rng = rng
	dt.importance = make([]float64, len(features[0]))
	dt.Nodes = nil
	dt.buildNode(samples, 0)
	dt.features, dt.targets, dt.rng = nil, nil, nil
	return nil
}

// Predict returns the leaf reached by row.
func (dt *DecisionTree) Predict(row []float64) (TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return TreeNode{}, ErrModelNotTrained
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(row) {
			return TreeNode{}, errors.New("feature index out of range")
		}
		if row[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
}

// Importance returns the unnormalized impurity decrease per feature recorded
// during the last Train call.
func (dt *DecisionTree) Importance() []float64 {
	return dt.importance
}

func (dt *DecisionTree) buildNode(samples []int, depth int) int {
	idx := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, dt.leaf(samples))

	n := len(samples)
	impurity := dt.impurity(samples)
	if n < dt.Config.MinSamplesSplit || impurity <= 1e-12 {
		return idx
	}
	if dt.Config.MaxDepth > 0 && depth >= dt.Config.MaxDepth {
		return idx
	}

	split, ok := dt.findBestSplit(samples)
	if !ok {
		return idx
	}

	left, right := partition(dt.features, samples, split.feature, split.threshold)
	if len(left) == 0 || len(right) == 0 {
		return idx
	}
	dt.importance[split.feature] += float64(n)*impurity - float64(n)*split.impurity

	node := &dt.Nodes[idx]
	node.IsLeaf = false
	node.FeatureIdx = split.feature
	node.Threshold = split.threshold

	leftIdx := dt.buildNode(left, depth+1)
	rightIdx := dt.buildNode(right, depth+1)
	dt.Nodes[idx].LeftChild = leftIdx
	dt.Nodes[idx].RightChild = rightIdx
	return idx
}

func (dt *DecisionTree) leaf(samples []int) TreeNode {
	node := TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		IsLeaf:     true,
		Samples:    len(samples),
	}
	if dt.Config.Classification {
		counts := make([]float64, dt.Config.NumClasses)
		for _, s := range samples {
			counts[int(dt.targets[s])]++
		}
		best := 0
		for c := range counts {
			if counts[c] > counts[best] {
				best = c
			}
		}
		for c := range counts {
			counts[c] /= float64(len(samples))
		}
		node.Distribution = counts
		node.Value = float64(best)
		return node
	}
	sum := 0.0
	for _, s := range samples {
		sum += dt.targets[s]
	}
	node.Value = sum / float64(len(samples))
	return node
}

func (dt *DecisionTree) impurity(samples []int) float64 {
	n := float64(len(samples))
	if dt.Config.Classification {
		counts := make([]float64, dt.Config.NumClasses)
		for _, s := range samples {
			counts[int(dt.targets[s])]++
		}
		g := 1.0
		for _, c := range counts {
			p := c / n
			g -= p * p
		}
		return g
	}
	sum := 0.0
	for _, s := range samples {
		sum += dt.targets[s]
	}
	mean := sum / n
	variance := 0.0
	for _, s := range samples {
		diff := dt.targets[s] - mean
		variance += diff * diff
	}
	return variance / n
}

type splitCandidate struct {
	feature   int
	threshold float64
	impurity  float64
}

func (dt *DecisionTree) findBestSplit(samples []int) (splitCandidate, bool) {
	featureCount := len(dt.features[0])
	candidates := make([]int, featureCount)
	for i := range candidates {
		candidates[i] = i
	}
	if dt.Config.MaxFeatures > 0 && dt.Config.MaxFeatures < featureCount {
		dt.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:dt.Config.MaxFeatures]
	}

	best := splitCandidate{feature: -1, impurity: math.MaxFloat64}
	sorted := make([]int, len(samples))
	for _, featureIdx := range candidates {
		copy(sorted, samples)
		sort.SliceStable(sorted, func(a, b int) bool {
			return dt.features[sorted[a]][featureIdx] < dt.features[sorted[b]][featureIdx]
		})
		threshold, impurity, ok := dt.scanFeature(sorted, featureIdx)
		if ok && impurity < best.impurity {
			best = splitCandidate{feature: featureIdx, threshold: threshold, impurity: impurity}
		}
	}
	return best, best.feature >= 0
}

// scanFeature walks the samples sorted by one feature and returns the
// threshold with the lowest weighted child impurity.
func (dt *DecisionTree) scanFeature(sorted []int, featureIdx int) (float64, float64, bool) {
	n := len(sorted)
	total := float64(n)
	bestImpurity := math.MaxFloat64
	bestThreshold := 0.0
	found := false

	value := func(k int) float64 { return dt.features[sorted[k]][featureIdx] }

	if dt.Config.Classification {
		left := make([]float64, dt.Config.NumClasses)
		right := make([]float64, dt.Config.NumClasses)
		for _, s := range sorted {
			right[int(dt.targets[s])]++
		}
		leftSq, rightSq := 0.0, 0.0
		for _, c := range right {
			rightSq += c * c
		}
		for k := 1; k < n; k++ {
			c := int(dt.targets[sorted[k-1]])
			leftSq += 2*left[c] + 1
			rightSq -= 2*right[c] - 1
			left[c]++
			right[c]--
			if value(k-1) == value(k) {
				continue
			}
			nl, nr := float64(k), total-float64(k)
			weighted := (nl - leftSq/nl + nr - rightSq/nr) / total
			if weighted < bestImpurity {
				bestImpurity = weighted
				bestThreshold = midpoint(value(k-1), value(k))
				found = true
			}
		}
		return bestThreshold, bestImpurity, found
	}

	rightSum, rightSq := 0.0, 0.0
	for _, s := range sorted {
		v := dt.targets[s]
		rightSum += v
		rightSq += v * v
	}
	leftSum, leftSq := 0.0, 0.0
	for k := 1; k < n; k++ {
		v := dt.targets[sorted[k-1]]
		leftSum += v
		leftSq += v * v
		rightSum -= v
		rightSq -= v * v
		if value(k-1) == value(k) {
			continue
		}
		nl, nr := float64(k), total-float64(k)
		sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
		weighted := math.Max(sse, 0) / total
		if weighted < bestImpurity {
			bestImpurity = weighted
			bestThreshold = midpoint(value(k-1), value(k))
			found = true
		}
	}
	return bestThreshold, bestImpurity, found
}

func midpoint(lo, hi float64) float64 {
	mid := lo + (hi-lo)/2
	if mid >= hi || math.IsInf(mid, 0) {
		return lo
	}
	return mid
}

func partition(features [][]float64, samples []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if features[s][featureIdx] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}
