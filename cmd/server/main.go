// Package main is the entry point for the docstack API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docstack-ai/docstack/internal/api"
	"github.com/docstack-ai/docstack/internal/api/handlers"
	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/chunker"
	"github.com/docstack-ai/docstack/internal/config"
	"github.com/docstack-ai/docstack/internal/embedder"
	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/jobs"
	"github.com/docstack-ai/docstack/internal/llm"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/rag"
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

	log.Info("starting docstack server",
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	healthChecks := make(map[string]handlers.HealthChecker)

	// Database
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
	log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
	if err := db.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})
	healthChecks["database"] = healthFunc(db.Health)

	// Object storage
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
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := contentStore.InitBucket(initCtx); err != nil {
		log.Warn("failed to initialize storage bucket", "error", err)
	}
	cancel()
	healthChecks["object_storage"] = healthFunc(contentStore.Health)

	// NATS
	natsClient, err := jobs.NewNATSClient(jobs.NATSConfig{
		URL:            cfg.NATS.URL,
		ClientName:     cfg.NATS.ClusterID,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	initCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := natsClient.SetupStreams(initCtx); err != nil {
		log.Warn("failed to setup NATS streams", "error", err)
	}
	cancel()
	shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
		return natsClient.Close()
	})

	// Redis-backed quotas; fall back to in-memory when Redis is not there.
	messageQuotaCfg := quota.Config{DailyLimit: cfg.Quota.MessagesPerDay, KeyPrefix: "quota:msg"}
	uploadQuotaCfg := quota.Config{DailyLimit: cfg.Quota.UploadsPerDay, KeyPrefix: "quota:upload"}
	var quotaStore, uploadQuota quota.Store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, using in-memory quota stores", "error", err)
		quotaStore = quota.NewMemoryStore(messageQuotaCfg)
		uploadQuota = quota.NewMemoryStore(uploadQuotaCfg)
	} else {
		quotaStore = quota.NewRedisStore(redisClient, messageQuotaCfg, log.Logger)
		uploadQuota = quota.NewRedisStore(redisClient, uploadQuotaCfg, log.Logger)
		shutdownHandler.RegisterNamed("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	cancel()

	// Repositories and pipeline components
	docRepo := storage.NewDocumentRepo(db, log.Logger)
	convRepo := storage.NewConversationRepo(db, log.Logger)
	vectorStore := storage.NewPgVectorStore(db, log.Logger)

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

	// Workers run in separate processes; their status events arrive here
	// over NATS so the status endpoint reflects every stage.
	if _, err := natsClient.SubscribeStatus(tracker); err != nil {
		log.Warn("failed to subscribe to status events", "error", err)
	}
	statusSink := jobs.NewStatusRelay(tracker, natsClient, log.Logger)

	proc := processor.New(
		docRepo,
		vectorStore,
		contentStore,
		extract.New(log.Logger),
		emb,
		splitter,
		statusSink,
		log.Logger,
	)

	// LLM provider
	provider, err := llm.NewOpenAIProvider(llm.ProviderConfig{
		Provider:    "openai",
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	log.Info("LLM provider created", "provider", provider.Name(), "model", provider.Model())

	// Chat services
	retrieverCfg := rag.DefaultRetrieverConfig()
	retrieverCfg.DefaultTopK = cfg.Chat.MaxSearchResults
	retrieverCfg.DefaultMinScore = cfg.Chat.SimilarityThreshold
	retriever := rag.NewRetriever(vectorStore, emb, convRepo, log.Logger, retrieverCfg)
	builder := rag.NewContextBuilder(log.Logger, rag.DefaultContextBuilderConfig())

	manager := chat.NewManager(convRepo, log.Logger)

	orchCfg := chat.DefaultOrchestratorConfig()
	orchCfg.GenerationTimeout = cfg.Chat.GenerationTimeout
	orchCfg.MaxTokens = cfg.LLM.MaxTokens
	orchCfg.Temperature = cfg.LLM.Temperature
	orchestrator, err := chat.NewOrchestrator(
		manager, convRepo, retriever, builder, provider, quotaStore, docRepo, orchCfg, log.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	documentService := chat.NewDocumentService(proc, docRepo, natsClient, tracker, uploadQuota, log.Logger)

	// Router and server
	routerCfg := api.DefaultRouterConfig()
	routerCfg.RateLimitConfig.RequestsPerSecond = float64(cfg.Quota.ChatPerMinute) / 60
	routerCfg.RateLimitConfig.Burst = cfg.Quota.ChatPerMinute

	router := api.NewRouter(api.Dependencies{
		Logger:        log.Logger,
		Chat:          orchestrator,
		Conversations: manager,
		Documents:     documentService,
		HealthChecks:  healthChecks,
	}, routerCfg)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Server.Port
	serverCfg.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	server := api.NewServer(router, serverCfg, log.Logger)

	shutdownHandler.RegisterNamed("http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	shutdownHandler.Wait()

	log.Info("server stopped")
	return nil
}

// healthFunc adapts a health method to the handlers.HealthChecker interface.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error {
	return f(ctx)
}
