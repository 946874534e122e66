package rag

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/storage"
)

// ContextBuilderConfig holds configuration for the context builder.
type ContextBuilderConfig struct {
	MaxTokens      int
	ChunkSeparator string
}

// DefaultContextBuilderConfig returns a default configuration.
func DefaultContextBuilderConfig() ContextBuilderConfig {
	return ContextBuilderConfig{
		MaxTokens:      3000,
		ChunkSeparator: "\n\n---\n\n",
	}
}

// BuiltContext represents the result of context building.
type BuiltContext struct {
	Text           string               `json:"text"`
	TokenCount     int                  `json:"token_count"`
	IncludedChunks []storage.ChunkMatch `json:"included_chunks"`
	TruncatedCount int                  `json:"truncated_count"`
}

// ContextBuilder formats retrieved chunks into the prompt context block,
// within a token budget. Chunks arrive already ordered by similarity; the
// budget cuts from the tail so the best matches survive.
type ContextBuilder struct {
	logger *slog.Logger
	config ContextBuilderConfig
}

// NewContextBuilder creates a new ContextBuilder instance.
func NewContextBuilder(logger *slog.Logger, config ContextBuilderConfig) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 3000
	}
	if config.ChunkSeparator == "" {
		config.ChunkSeparator = "\n\n---\n\n"
	}

	return &ContextBuilder{
		logger: logger.With("component", "context_builder"),
		config: config,
	}
}

// Build formats chunks as numbered source excerpts. titles maps document
// IDs to display names for the excerpt headers; unknown documents fall back
// to their ID.
func (cb *ContextBuilder) Build(chunks []storage.ChunkMatch, titles map[uuid.UUID]string) *BuiltContext {
	if len(chunks) == 0 {
		return &BuiltContext{}
	}

	var sb strings.Builder
	var included []storage.ChunkMatch
	tokenCount := 0

	for i, chunk := range chunks {
		title := titles[chunk.DocumentID]
		if title == "" {
			title = chunk.DocumentID.String()
		}

		formatted := fmt.Sprintf("[Source %d: %s (relevance %.2f)]\n%s",
			i+1, title, chunk.Similarity, chunk.Content)
		chunkTokens := estimateTokens(formatted)

		if tokenCount+chunkTokens > cb.config.MaxTokens {
			break
		}

		if sb.Len() > 0 {
			sb.WriteString(cb.config.ChunkSeparator)
			tokenCount += estimateTokens(cb.config.ChunkSeparator)
		}

		sb.WriteString(formatted)
		tokenCount += chunkTokens
		included = append(included, chunk)
	}

	result := &BuiltContext{
		Text:           sb.String(),
		TokenCount:     tokenCount,
		IncludedChunks: included,
		TruncatedCount: len(chunks) - len(included),
	}

	cb.logger.Debug("context built",
		"included_chunks", len(included),
		"truncated", result.TruncatedCount,
		"token_count", tokenCount,
	)

	return result
}

// estimateTokens approximates token count at 4 characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
