// Package main is the entry point for the docstack processing worker.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docstack-ai/docstack/internal/chunker"
	"github.com/docstack-ai/docstack/internal/config"
	"github.com/docstack-ai/docstack/internal/embedder"
	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/jobs"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/storage"
	"github.com/docstack-ai/docstack/pkg/logger"
	"github.com/docstack-ai/docstack/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting docstack worker", "environment", cfg.Server.Environment)

	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})

	contentStore, err := storage.NewMinIOContentStore(storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}

	natsClient, err := jobs.NewNATSClient(jobs.NATSConfig{
		URL:            cfg.NATS.URL,
		ClientName:     cfg.NATS.ClusterID + "-worker",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := natsClient.SetupStreams(initCtx); err != nil {
		log.Warn("failed to setup NATS streams", "error", err)
	}
	cancel()
	shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
		return natsClient.Drain()
	})

	embConfig := embedder.DefaultConfig(cfg.Embedding.APIKey)
	embConfig.Model = cfg.Embedding.Model
	embConfig.Dimension = cfg.Embedding.Dimension
	embConfig.MaxBatchSize = cfg.Embedding.MaxBatchSize
	embConfig.RateLimitRPS = cfg.Embedding.RateLimitRPS
	emb, err := embedder.NewOpenAIEmbedder(embConfig, log)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	chunkCfg := chunker.DefaultConfig()
	chunkCfg.MaxTokens = cfg.Pipeline.ChunkTokens
	chunkCfg.OverlapTokens = cfg.Pipeline.ChunkOverlap
	splitter, err := chunker.New(chunkCfg)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	tracker := processor.NewStatusTracker(cfg.Pipeline.StatusRetention, log.Logger)
	shutdownHandler.RegisterNamed("status-tracker", func(ctx context.Context) error {
		tracker.Close()
		return nil
	})

	// Broadcast stage transitions so API processes can answer status
	// queries for documents this worker is processing.
	statusSink := jobs.NewStatusRelay(tracker, natsClient, log.Logger)

	proc := processor.New(
		storage.NewDocumentRepo(db, log.Logger),
		storage.NewPgVectorStore(db, log.Logger),
		contentStore,
		extract.New(log.Logger),
		emb,
		splitter,
		statusSink,
		log.Logger,
	)

	poolCfg := jobs.DefaultWorkerPoolConfig()
	poolCfg.ProcessWorkers = cfg.Pipeline.ProcessWorkers + cfg.Pipeline.IndexWorkers

	pool := jobs.NewWorkerPool(natsClient, poolCfg, proc, log.Logger)
	if err := pool.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	shutdownHandler.RegisterNamed("worker-pool", func(ctx context.Context) error {
		return pool.Stop(ctx)
	})

	shutdownHandler.Wait()

	log.Info("worker stopped")
	return nil
}
