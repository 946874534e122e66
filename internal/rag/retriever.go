// Package rag provides retrieval over the indexed document corpus.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/storage"
)

// Embedder defines the interface for embedding query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SettingsStore loads per-user retrieval settings.
type SettingsStore interface {
	GetChatSettings(ctx context.Context, userID uuid.UUID) (storage.ChatSettings, error)
}

// RetrieverConfig holds fallback limits applied when a user has no stored
// settings and defaults cannot be loaded.
type RetrieverConfig struct {
	DefaultTopK     int
	DefaultMinScore float64
}

// DefaultRetrieverConfig returns a default configuration.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		DefaultTopK:     10,
		DefaultMinScore: 0.7,
	}
}

// RetrievalResult represents the result of a retrieval operation. An empty
// Chunks slice is a valid outcome, not an error.
type RetrievalResult struct {
	Chunks   []storage.ChunkMatch `json:"chunks"`
	Query    string               `json:"query"`
	TopK     int                  `json:"top_k"`
	MinScore float64              `json:"min_score"`
	Timing   RetrievalTiming      `json:"timing"`
}

// RetrievalTiming tracks timing information for retrieval.
type RetrievalTiming struct {
	EmbeddingMs int64 `json:"embedding_ms"`
	SearchMs    int64 `json:"search_ms"`
	TotalMs     int64 `json:"total_ms"`
}

// Retriever embeds queries and runs similarity search with the caller's
// chat settings applied.
type Retriever struct {
	vectorStore storage.VectorStore
	embedder    Embedder
	settings    SettingsStore
	logger      *slog.Logger
	config      RetrieverConfig
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(
	vectorStore storage.VectorStore,
	embedder Embedder,
	settings SettingsStore,
	logger *slog.Logger,
	config RetrieverConfig,
) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 10
	}
	if config.DefaultMinScore <= 0 {
		config.DefaultMinScore = 0.7
	}

	return &Retriever{
		vectorStore: vectorStore,
		embedder:    embedder,
		settings:    settings,
		logger:      logger.With("component", "retriever"),
		config:      config,
	}
}

// Retrieve embeds the query and returns the chunks most similar to it,
// capped at the user's max search results and filtered by their similarity
// threshold. Only chunks of fully indexed documents are visible to the
// search.
func (r *Retriever) Retrieve(ctx context.Context, userID uuid.UUID, query string) (*RetrievalResult, error) {
	startTotal := time.Now()

	topK := r.config.DefaultTopK
	minScore := r.config.DefaultMinScore
	if settings, err := r.settings.GetChatSettings(ctx, userID); err == nil {
		topK = settings.MaxSearchResults
		minScore = settings.SimilarityThreshold
	} else {
		r.logger.Warn("falling back to default retrieval settings",
			"user_id", userID,
			"error", err,
		)
	}

	startEmbed := time.Now()
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	embeddingMs := time.Since(startEmbed).Milliseconds()

	startSearch := time.Now()
	chunks, err := r.vectorStore.Query(ctx, embedding, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	searchMs := time.Since(startSearch).Milliseconds()

	result := &RetrievalResult{
		Chunks:   chunks,
		Query:    query,
		TopK:     topK,
		MinScore: minScore,
		Timing: RetrievalTiming{
			EmbeddingMs: embeddingMs,
			SearchMs:    searchMs,
			TotalMs:     time.Since(startTotal).Milliseconds(),
		},
	}

	r.logger.Info("retrieval completed",
		"user_id", userID,
		"top_k", topK,
		"min_score", minScore,
		"results", len(chunks),
		"duration_ms", result.Timing.TotalMs,
	)

	return result, nil
}
