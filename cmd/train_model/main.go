package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"modelserve/config"
	"modelserve/ml"
	"modelserve/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	csvPath := flag.String("csv", "", "dataset to train on")
	target := flag.String("target", "", "target column")
	problem := flag.String("problem", "regression", "regression or classification")
	modelDir := flag.String("model_dir", "", "snapshot output directory (defaults to storage.model_dir)")
	flag.Parse()

	if *csvPath == "" || *target == "" {
		log.Fatal("csv and target are required")
	}

	// Look for config in the parent dir when run from cmd/
	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !filepath.IsAbs(path) {
		path = filepath.Join("..", path)
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *modelDir != "" {
		cfg.Storage.ModelDir = *modelDir
	}

	problemType, err := ml.ParseProblemType(*problem)
	if err != nil {
		log.Fatal(err)
	}
	enc, err := pipeline.ParseEncoding(cfg.Storage.Encoding)
	if err != nil {
		log.Fatal(err)
	}

	table, err := readDataset(*csvPath, enc)
	if err != nil {
		log.Fatalf("failed to read dataset: %v", err)
	}
	log.Printf("loaded %d rows x %d columns from %s", table.NumRows(), table.NumColumns(), *csvPath)

	if err := os.MkdirAll(cfg.Storage.ModelDir, 0o755); err != nil {
		log.Fatalf("failed to create model dir: %v", err)
	}
	model := ml.NewPredictiveModel(
		ml.WithArtifactStore(ml.NewFileStore(cfg.Storage.ModelDir)),
		ml.WithTrainerConfig(cfg.ML.Forest),
	)

	result, err := pipeline.Train(model, table, *target, problemType, pipeline.SplitConfig{
		TestSize: cfg.ML.TestSize,
		Seed:     cfg.ML.SplitSeed,
	})
	if err != nil && result == nil {
		log.Fatalf("failed to train model: %v", err)
	}

	out, _ := json.MarshalIndent(struct {
		Metrics           map[string]interface{} `json:"metrics"`
		FeatureImportance map[string]float64     `json:"feature_importance"`
	}{result.Metrics, result.FeatureImportance}, "", "  ")
	fmt.Println(string(out))

	if err != nil {
		log.Fatalf("model trained but not saved: %v", err)
	}
	fmt.Printf("model saved to %s\n", cfg.Storage.ModelDir)
}

func readDataset(path string, enc pipeline.Encoding) (*ml.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return pipeline.ReadCSV(file, enc)
}
