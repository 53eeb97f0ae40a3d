package pipeline

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"modelserve/ml"
)

// SplitConfig 训练/测试集划分配置
type SplitConfig struct {
	TestSize float64
	Seed     int64
}

// DefaultSplitConfig 默认 80/20 划分，种子 42
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{TestSize: 0.2, Seed: 42}
}

// TrainingResult 训练结果
type TrainingResult struct {
	Success           bool                   `json:"success"`
	Metrics           map[string]interface{} `json:"metrics"`
	FeatureImportance map[string]float64     `json:"feature_importance"`
	TestPredictions   []interface{}          `json:"test_predictions"`
	TestActual        []interface{}          `json:"test_actual"`
	Metadata          *ml.Metadata           `json:"metadata"`
	Warning           string                 `json:"warning,omitempty"`
}

// SplitIndices 打乱行号并划分训练集与测试集
//
// 测试集大小向上取整，两部分都不能为空。
func SplitIndices(n int, cfg SplitConfig) (train, test []int, err error) {
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v must be between 0 and 1", cfg.TestSize)
	}
	nTest := int(math.Ceil(cfg.TestSize * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain <= 0 {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split with test size %v", ml.ErrInvalidDataset, n, cfg.TestSize)
	}
	perm := rand.New(rand.NewSource(cfg.Seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// SplitTable 按划分结果切分特征与目标列
func SplitTable(features *ml.Table, target *ml.Column, cfg SplitConfig) (trainX *ml.Table, trainY *ml.Column, testX *ml.Table, testY *ml.Column, err error) {
	train, test, err := SplitIndices(features.NumRows(), cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return features.Take(train), target.Take(train), features.Take(test), target.Take(test), nil
}

// Train 在上传的数据集上训练模型并在留出集上评估
//
// 仅持久化失败时模型已经生效，结果中带 Warning 并同时返回错误。
func Train(model *ml.PredictiveModel, table *ml.Table, targetColumn string, problem ml.ProblemType, cfg SplitConfig) (*TrainingResult, error) {
	features, target, err := table.SplitTarget(targetColumn)
	if err != nil {
		return nil, err
	}
	trainX, trainY, testX, testY, err := SplitTable(features, target, cfg)
	if err != nil {
		return nil, err
	}

	meta, trainErr := model.Train(trainX, trainY, problem)
	if trainErr != nil && !errors.Is(trainErr, ml.ErrPersistence) {
		return nil, trainErr
	}

	predictions, err := model.Predict(testX)
	if err != nil {
		return nil, err
	}
	metrics, actual, err := evaluate(problem, testY, predictions)
	if err != nil {
		return nil, err
	}
	importance, err := model.FeatureImportance()
	if err != nil {
		return nil, err
	}

	result := &TrainingResult{
		Success:           true,
		Metrics:           metrics,
		FeatureImportance: importance,
		TestPredictions:   predictions.Head(5).Interfaces(),
		TestActual:        actual,
		Metadata:          meta,
	}
	if trainErr != nil {
		result.Warning = trainErr.Error()
	}
	return result, trainErr
}

func evaluate(problem ml.ProblemType, truth *ml.Column, predictions *ml.Predictions) (map[string]interface{}, []interface{}, error) {
	head := 5
	if truth.Len() < head {
		head = truth.Len()
	}
	actual := make([]interface{}, head)
	for i := range actual {
		actual[i] = truth.Value(i)
	}

	if problem == ml.Classification {
		labels := truth.Text()
		accuracy, err := ml.Accuracy(labels, predictions.Labels)
		if err != nil {
			return nil, nil, err
		}
		report, err := ml.ClassificationReport(labels, predictions.Labels)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{
			"accuracy":              accuracy,
			"classification_report": report,
		}, actual, nil
	}

	values, err := truth.Float()
	if err != nil {
		return nil, nil, err
	}
	rmse, err := ml.RMSE(values, predictions.Values)
	if err != nil {
		return nil, nil, err
	}
	r2, err := ml.R2(values, predictions.Values)
	if err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{
		"rmse": rmse,
		"r2":   r2,
	}, actual, nil
}
