// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"modelserve/ml"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	ML       MLConfig       `yaml:"ml"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
	ModelDir  string `yaml:"model_dir"`
	// CacheSize is the number of parsed uploads kept in memory.
	CacheSize int `yaml:"cache_size"`
	// Encoding of uploaded CSV files: utf-8 or gbk.
	Encoding string `yaml:"encoding"`
}

type DatabaseConfig struct {
	// Driver is sqlite3 or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MLConfig struct {
	TestSize    float64          `yaml:"test_size"`
	SplitSeed   int64            `yaml:"split_seed"`
	WatchModels bool             `yaml:"watch_models"`
	Forest      ml.TrainerConfig `yaml:"forest"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            5000,
			AllowedOrigins:  []string{"*"},
			MaxUploadBytes:  16 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			UploadDir: "uploads",
			ModelDir:  "models",
			CacheSize: 16,
			Encoding:  "utf-8",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "modelserve.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		ML: MLConfig{
			TestSize:    0.2,
			SplitSeed:   42,
			WatchModels: true,
			Forest: ml.TrainerConfig{
				NEstimators:     100,
				MinSamplesSplit: 2,
				RandomState:     42,
			},
		},
	}
}

// Load decodes the file at path over Default.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if c.Storage.UploadDir == "" || c.Storage.ModelDir == "" {
		return errors.New("storage.upload_dir and storage.model_dir are required")
	}
	if c.Storage.CacheSize <= 0 {
		return errors.New("storage.cache_size must be positive")
	}
	switch c.Storage.Encoding {
	case "utf-8", "utf8", "gbk":
	default:
		return fmt.Errorf("storage.encoding %q not supported", c.Storage.Encoding)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.ML.TestSize <= 0 || c.ML.TestSize >= 1 {
		return fmt.Errorf("ml.test_size %v must be between 0 and 1", c.ML.TestSize)
	}
	if c.ML.Forest.NEstimators < 0 || c.ML.Forest.MaxDepth < 0 {
		return errors.New("ml.forest values must not be negative")
	}
	return nil
}
