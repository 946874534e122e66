// Package main is the entry point for the docstack operations CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docstack-ai/docstack/internal/chunker"
	"github.com/docstack-ai/docstack/internal/config"
	"github.com/docstack-ai/docstack/internal/embedder"
	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/jobs"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/storage"
	"github.com/docstack-ai/docstack/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "docstackctl",
		Short:   "docstack operations CLI",
		Long:    "CLI tool for inspecting and operating the document processing pipeline.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newPurgeCmd())

	return rootCmd.Execute()
}

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a local file through the full pipeline",
		Long:  "Upload, extract, chunk, embed, and index a local file without going through the HTTP API or the job queue.",
		Example: `  # Ingest a PDF for a user
  docstackctl ingest report.pdf --user=3f1c7e0a-8a2b-4f6d-9c41-2b7d8f0a1e55`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], userID)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner user ID (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show a document's processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	return cmd
}

// newRetryCmd creates the retry subcommand.
func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [document-id]",
		Short: "Enqueue a retry for a failed document",
		Long:  "Publish a retry job for a document stuck in a failed state. A worker picks it up and resumes from the failed stage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd.Context(), args[0])
		},
	}

	return cmd
}

// newPurgeCmd creates the purge-vectors subcommand.
func newPurgeCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge-vectors [document-id]",
		Short: "Delete all indexed vectors for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to purge without --yes")
			}
			return runPurge(cmd.Context(), args[0])
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the purge")

	return cmd
}

// runIngest executes the ingest command.
func runIngest(ctx context.Context, filePath, userIDStr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, cancelling...")
		cancel()
	}()

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.SetDefault()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	contentStore, err := openContentStore(cfg)
	if err != nil {
		return err
	}

	embConfig := embedder.DefaultConfig(cfg.Embedding.APIKey)
	embConfig.Model = cfg.Embedding.Model
	embConfig.Dimension = cfg.Embedding.Dimension
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
	defer tracker.Close()

	proc := processor.New(
		storage.NewDocumentRepo(db, log.Logger),
		storage.NewPgVectorStore(db, log.Logger),
		contentStore,
		extract.New(log.Logger),
		emb,
		splitter,
		tracker,
		log.Logger,
	)

	fileName := filepath.Base(filePath)
	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")

	start := time.Now()
	doc, err := proc.AcceptUpload(ctx, userID, fileName, fileType, data)
	if err != nil {
		if doc != nil && errors.Is(err, storage.ErrDuplicateDocument) {
			fmt.Printf("Duplicate content, document already exists: %s (status %s)\n", doc.ID, doc.Status)
			return nil
		}
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Printf("Uploaded %s as document %s\n", fileName, doc.ID)

	if err := proc.Process(ctx, doc.ID); err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	final, err := storage.NewDocumentRepo(db, log.Logger).GetByID(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	printDocument(final)
	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// runStatus executes the status command.
func runStatus(ctx context.Context, documentIDStr string, jsonOutput bool) error {
	documentID, err := uuid.Parse(documentIDStr)
	if err != nil {
		return fmt.Errorf("invalid document ID: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  "warn",
		Format: cfg.Log.Format,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	doc, err := storage.NewDocumentRepo(db, log.Logger).GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document not found: %s", documentID)
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printDocument(doc)
	return nil
}

// runRetry executes the retry command.
func runRetry(ctx context.Context, documentIDStr string) error {
	documentID, err := uuid.Parse(documentIDStr)
	if err != nil {
		return fmt.Errorf("invalid document ID: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	doc, err := storage.NewDocumentRepo(db, log.Logger).GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("document not found: %s", documentID)
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	switch doc.Status {
	case storage.StatusFailed, storage.StatusConversionFailed, storage.StatusIndexingFailed:
	default:
		return fmt.Errorf("document is %s, only failed documents can be retried", doc.Status)
	}

	natsClient, err := jobs.NewNATSClient(jobs.NATSConfig{
		URL:            cfg.NATS.URL,
		ClientName:     cfg.NATS.ClusterID + "-ctl",
		MaxReconnects:  3,
		ReconnectWait:  time.Second,
		ConnectTimeout: 10 * time.Second,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsClient.Close()

	if err := natsClient.PublishRetryDocument(ctx, jobs.NewRetryDocumentJob(documentID)); err != nil {
		return fmt.Errorf("failed to enqueue retry: %w", err)
	}

	fmt.Printf("Retry enqueued for document %s (was %s)\n", documentID, doc.Status)
	return nil
}

// runPurge executes the purge-vectors command.
func runPurge(ctx context.Context, documentIDStr string) error {
	documentID, err := uuid.Parse(documentIDStr)
	if err != nil {
		return fmt.Errorf("invalid document ID: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.NewPgVectorStore(db, log.Logger).DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to purge vectors: %w", err)
	}

	fmt.Printf("Vectors purged for document %s\n", documentID)
	return nil
}

// openDatabase connects to Postgres using the loaded configuration.
func openDatabase(cfg *config.Config) (*storage.PostgresDB, error) {
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
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openContentStore connects to object storage using the loaded configuration.
func openContentStore(cfg *config.Config) (*storage.MinIOContentStore, error) {
	store, err := storage.NewMinIOContentStore(storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}
	return store, nil
}

// printDocument prints a document summary to stdout.
func printDocument(doc *storage.Document) {
	fmt.Println("=== Document ===")
	fmt.Printf("ID:         %s\n", doc.ID)
	fmt.Printf("Owner:      %s\n", doc.UserID)
	fmt.Printf("File:       %s (%s, %d bytes)\n", doc.FileName, doc.FileType, doc.FileSize)
	fmt.Printf("Hash:       %s\n", doc.ContentHash)
	fmt.Printf("Status:     %s\n", doc.Status)
	fmt.Printf("Extracted:  %t\n", doc.ContentExtracted)
	fmt.Printf("Chunks:     %d\n", doc.ChunksCount)
	fmt.Printf("Vectors:    %d (indexed: %t)\n", doc.VectorsCount, doc.VectorIndexed)
	if doc.ErrorMessage.Valid && doc.ErrorMessage.String != "" {
		fmt.Printf("Error:      %s\n", doc.ErrorMessage.String)
	}
	fmt.Printf("Updated:    %s\n", doc.UpdatedAt.Format(time.RFC3339))
}
