// Package app assembles the querypipe components from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/config"
	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/generation"
	"github.com/dshills/querypipe/internal/indexer"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/metrics"
	"github.com/dshills/querypipe/internal/pipeline"
	"github.com/dshills/querypipe/internal/respcache"
	"github.com/dshills/querypipe/internal/retrieval"
	"github.com/dshills/querypipe/internal/storage"
)

// App owns every long-lived component and tears them down in order.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      storage.Storage
	Embedder   embedder.Embedder
	Embeddings *embedder.TieredCache
	Classifier *intent.Classifier
	Retriever  *retrieval.Retriever
	Generator  generation.Generator
	Responses  *respcache.Cache
	Recorder   *metrics.Recorder
	Indexer    *indexer.Indexer
	Pipeline   *pipeline.Pipeline
	Sweeper    *respcache.Sweeper
}

// OpenStorage opens the store selected by cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStorage(ctx, cfg.Storage.DatabaseURL, cfg.Embedding.Dimension)
	default:
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return storage.NewSQLiteStorage(cfg.Storage.Path, cfg.Embedding.Dimension)
	}
}

// New opens storage and providers and wires the pipeline. The sweeper is
// created but not started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Store: store}

	a.Embedder, err = embedder.New(ctx, embedder.Config{
		Provider:  cfg.Embedding.Provider,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		TaskType:  cfg.Embedding.TaskType,
		Project:   cfg.Embedding.Project,
		Location:  cfg.Embedding.Location,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	a.Generator, err = generation.New(ctx, generation.Config{
		Provider:    cfg.Generation.Provider,
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Project:     cfg.Generation.Project,
		Location:    cfg.Generation.Location,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	})
	if err != nil {
		_ = a.Embedder.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	a.Embeddings = embedder.NewTieredCache(a.Embedder, store, embedder.TieredCacheConfig{
		MemorySize:     cfg.Embedding.MemorySize,
		Dimension:      cfg.Embedding.Dimension,
		ComputeTimeout: cfg.Embedding.Timeout,
		Logger:         logger.Named("embeddings"),
	})
	a.Classifier = intent.NewClassifier(store, logger.Named("intent"))
	a.Retriever = retrieval.NewRetriever(store, logger.Named("retrieval"))
	a.Responses = respcache.New(store, respcache.WithLogger(logger.Named("respcache")))
	a.Recorder = metrics.NewRecorder(store, metrics.RecorderConfig{
		QueueSize: cfg.Metrics.QueueSize,
		Logger:    logger.Named("metrics"),
	})
	a.Indexer = indexer.New(store, a.Embedder, logger.Named("indexer"))

	fusion, err := retrieval.ParseFusion(cfg.Retrieval.Fusion)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Embeddings: a.Embeddings,
		Classifier: a.Classifier,
		Retriever:  a.Retriever,
		Generator:  a.Generator,
		Cache:      a.Responses,
		Metrics:    a.Recorder,
		Logger:     logger.Named("pipeline"),
	}, pipeline.Config{
		EmbeddingModel: cfg.Embedding.Model,
		Intent: &intent.Options{
			MinThreshold: cfg.Intent.MinThreshold,
			Limit:        cfg.Intent.Limit,
		},
		Retrieval: retrieval.Request{
			SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
			VectorLimit:         cfg.Retrieval.VectorLimit,
			TextLimit:           cfg.Retrieval.TextLimit,
			Fusion:              fusion,
			Normalize:           cfg.Retrieval.Normalize,
			RRFConstant:         cfg.Retrieval.RRFConstant,
		},
		ResponseTTL:       cfg.Cache.ResponseTTL,
		EmbeddingTimeout:  cfg.Embedding.Timeout,
		GenerationTimeout: cfg.Generation.Timeout,
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Sweeper = respcache.NewSweeper(cfg.Cache.SweepInterval, logger.Named("sweeper"), a.SweepTasks()...)
	logger.Info("querypipe ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedding_provider", a.Embedder.Provider()),
		zap.String("embedding_model", a.Embedder.Model()),
		zap.String("generation_model", a.Generator.Model()),
		zap.Int("dimension", cfg.Embedding.Dimension))
	return a, nil
}

// SweepTasks lists the retention jobs enabled by the config.
func (a *App) SweepTasks() []respcache.Task {
	tasks := []respcache.Task{{Name: "responses", Run: a.Responses.Sweep}}
	if d := a.Config.Cache.EmbeddingRetention; d > 0 {
		tasks = append(tasks, respcache.Task{Name: "embeddings", Run: func(ctx context.Context) (int64, error) {
			return a.Embeddings.Sweep(ctx, d)
		}})
	}
	if d := a.Config.Metrics.Retention; d > 0 {
		tasks = append(tasks, respcache.Task{Name: "metrics", Run: func(ctx context.Context) (int64, error) {
			return a.Recorder.Sweep(ctx, d)
		}})
	}
	return tasks
}

// Thresholds returns the aggregation thresholds from the config.
func (a *App) Thresholds() metrics.Thresholds {
	th := metrics.DefaultThresholds()
	if a.Config.Metrics.SlowMS > 0 {
		th.SlowMS = a.Config.Metrics.SlowMS
	}
	if a.Config.Metrics.LowConfidence > 0 {
		th.LowConfidence = a.Config.Metrics.LowConfidence
	}
	return th
}

// Close stops background work, flushes metrics and closes the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Recorder != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, a.Recorder.Close(flushCtx))
		cancel()
	}
	if a.Embeddings != nil {
		errs = append(errs, a.Embeddings.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
