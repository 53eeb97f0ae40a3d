package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"modelserve/config"
	"modelserve/db"
	qhttp "modelserve/http"
	"modelserve/logger"
	"modelserve/ml"
	"modelserve/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load config
	// Look for config in the parent dir when run from cmd/
	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !filepath.IsAbs(path) {
		path = filepath.Join("..", path)
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("service stopped", zap.Error(err))
	}
	zl.Info("exiting")
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Training log database
	store, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	zl.Info("database initialized", zap.String("driver", cfg.Database.Driver))

	// 4. Model, restored from the last snapshot when one exists
	model, err := ml.LoadModel(cfg.Storage.ModelDir,
		ml.WithLogger(zl.Named("ml")),
		ml.WithTrainerConfig(cfg.ML.Forest))
	if err != nil {
		zl.Warn("starting with an untrained model", zap.String("dir", cfg.Storage.ModelDir), zap.Error(err))
	} else if model.IsTrained() {
		zl.Info("model restored", zap.String("run_id", model.RunID()))
	}

	enc, err := pipeline.ParseEncoding(cfg.Storage.Encoding)
	if err != nil {
		return err
	}
	uploads, err := pipeline.NewUploadStore(cfg.Storage.UploadDir, cfg.Storage.CacheSize, enc)
	if err != nil {
		return err
	}

	// 5. Training events
	events := qhttp.NewEventHub(zl.Named("events"), cfg.HTTP.AllowedOrigins)
	go events.Run(ctx)

	if cfg.ML.WatchModels {
		watcher := ml.NewSnapshotWatcher(model, ml.NewFileStore(cfg.Storage.ModelDir), zl.Named("watcher"))
		watcher.OnReload(func(meta *ml.Metadata) {
			events.Publish(qhttp.EventModelReloaded, meta)
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				zl.Error("snapshot watcher stopped", zap.Error(err))
			}
		}()
	}

	// 6. HTTP server
	handler := qhttp.NewHandler(qhttp.HandlerConfig{
		Model:   model,
		Uploads: uploads,
		Log:     store,
		Events:  events,
		Split: pipeline.SplitConfig{
			TestSize: cfg.ML.TestSize,
			Seed:     cfg.ML.SplitSeed,
		},
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Logger:         zl.Named("http"),
	})
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxUploadBytes + 1<<20,
	}, handler, zl.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 7. Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}
