package ml

import (
	"errors"
	"math"
	"sort"
)

var errLengthMismatch = errors.New("truth/prediction length mismatch")

func RMSE(truth, predicted []float64) (float64, error) {
	if len(truth) != len(predicted) {
		return 0, errLengthMismatch
	}
	if len(truth) == 0 {
		return 0, nil
	}
	sum := 0.0
	for i := range truth {
		diff := truth[i] - predicted[i]
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(truth))), nil
}

// R2 is the coefficient of determination. A constant truth vector yields 1
// for a perfect fit and 0 otherwise.
func R2(truth, predicted []float64) (float64, error) {
	if len(truth) != len(predicted) {
		return 0, errLengthMismatch
	}
	if len(truth) == 0 {
		return 0, nil
	}
	mean := 0.0
	for _, v := range truth {
		mean += v
	}
	mean /= float64(len(truth))
	var ssRes, ssTot float64
	for i := range truth {
		r := truth[i] - predicted[i]
		t := truth[i] - mean
		ssRes += r * r
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

func Accuracy(truth, predicted []string) (float64, error) {
	if len(truth) != len(predicted) {
		return 0, errLengthMismatch
	}
	if len(truth) == 0 {
		return 0, nil
	}
	correct := 0
	for i := range truth {
		if truth[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth)), nil
}

// ClassScore holds the per-label figures of a classification report.
type ClassScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// ClassificationReport mirrors the dictionary form of scikit-learn's report:
// one entry per label plus "accuracy", "macro avg" and "weighted avg".
func ClassificationReport(truth, predicted []string) (map[string]interface{}, error) {
	if len(truth) != len(predicted) {
		return nil, errLengthMismatch
	}
	labelSet := make(map[string]struct{})
	for i := range truth {
		labelSet[truth[i]] = struct{}{}
		labelSet[predicted[i]] = struct{}{}
	}
	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	report := make(map[string]interface{}, len(labels)+3)
	var macro, weighted ClassScore
	total := 0
	for _, label := range labels {
		var tp, fp, fn int
		for i := range truth {
			switch {
			case truth[i] == label && predicted[i] == label:
				tp++
			case truth[i] != label && predicted[i] == label:
				fp++
			case truth[i] == label && predicted[i] != label:
				fn++
			}
		}
		score := ClassScore{
			Precision: safeDiv(float64(tp), float64(tp+fp)),
			Recall:    safeDiv(float64(tp), float64(tp+fn)),
			Support:   tp + fn,
		}
		score.F1Score = safeDiv(2*score.Precision*score.Recall, score.Precision+score.Recall)
		report[label] = score

		macro.Precision += score.Precision
		macro.Recall += score.Recall
		macro.F1Score += score.F1Score
		weighted.Precision += score.Precision * float64(score.Support)
		weighted.Recall += score.Recall * float64(score.Support)
		weighted.F1Score += score.F1Score * float64(score.Support)
		total += score.Support
	}

	n := float64(len(labels))
	macro = ClassScore{
		Precision: safeDiv(macro.Precision, n),
		Recall:    safeDiv(macro.Recall, n),
		F1Score:   safeDiv(macro.F1Score, n),
		Support:   total,
	}
	weighted = ClassScore{
		Precision: safeDiv(weighted.Precision, float64(total)),
		Recall:    safeDiv(weighted.Recall, float64(total)),
		F1Score:   safeDiv(weighted.F1Score, float64(total)),
		Support:   total,
	}
	accuracy, _ := Accuracy(truth, predicted)
	report["accuracy"] = accuracy
	report["macro avg"] = macro
	report["weighted avg"] = weighted
	return report, nil
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
