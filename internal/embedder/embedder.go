// Package embedder provides embedding generation for text-to-vector conversion.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/docstack-ai/docstack/pkg/logger"
)

// Embedder generates fixed-dimension embeddings. The same embedder must be
// used for chunk indexing and query embedding so dimensions match.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds configuration for the embedder.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Dimension    int
	MaxBatchSize int           // Max texts per request (default: 100)
	MaxRetries   int           // Retry attempts on transient failure
	RetryDelay   time.Duration // Initial retry delay
	RateLimitRPS int           // Requests per second
	CacheSize    int           // Max cached embeddings (0 disables caching)
}

// DefaultConfig returns default embedder configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:       apiKey,
		Model:        "text-embedding-3-small",
		Dimension:    1536,
		MaxBatchSize: 100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
		RateLimitRPS: 50,
		CacheSize:    10000,
	}
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client      *openai.Client
	config      Config
	rateLimiter *rate.Limiter
	cache       *embeddingCache
	log         *logger.Logger
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg Config, log *logger.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var cache *embeddingCache
	if cfg.CacheSize > 0 {
		cache = newEmbeddingCache(cfg.CacheSize)
	}

	return &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		config:      cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		cache:       cache,
		log:         log.WithComponent("embedder"),
	}, nil
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, batching requests and
// serving repeats from cache.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	results := make([][]float32, len(texts))

	// Serve cached entries, collect the rest
	var missing []int
	for i, text := range texts {
		if e.cache != nil {
			if emb, ok := e.cache.get(text); ok {
				results[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	for batchStart := 0; batchStart < len(missing); batchStart += e.config.MaxBatchSize {
		batchEnd := batchStart + e.config.MaxBatchSize
		if batchEnd > len(missing) {
			batchEnd = len(missing)
		}
		batch := missing[batchStart:batchEnd]

		input := make([]string, len(batch))
		for j, idx := range batch {
			input[j] = texts[idx]
		}

		embeddings, err := e.requestEmbeddings(ctx, input)
		if err != nil {
			return nil, err
		}

		for j, idx := range batch {
			results[idx] = embeddings[j]
			if e.cache != nil {
				e.cache.set(texts[idx], embeddings[j])
			}
		}
	}

	e.log.Debug("embed batch completed",
		"count", len(texts),
		"cache_misses", len(missing),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results, nil
}

func (e *OpenAIEmbedder) requestEmbeddings(ctx context.Context, input []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.config.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: input,
			Model: openai.EmbeddingModel(e.config.Model),
		})
		if err != nil {
			lastErr = err
			e.log.Warn("embedding request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if len(resp.Data) != len(input) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(input))
		}

		embeddings := make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			embeddings[d.Index] = d.Embedding
		}
		return embeddings, nil
	}

	return nil, fmt.Errorf("embedding request failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

// embeddingCache is a small LRU keyed by content hash.
type embeddingCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	maxSize int
}

func newEmbeddingCache(maxSize int) *embeddingCache {
	return &embeddingCache{
		entries: make(map[string][]float32),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *embeddingCache) get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	emb, ok := c.entries[cacheKey(text)]
	return emb, ok
}

func (c *embeddingCache) set(text string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(text)
	if _, exists := c.entries[key]; exists {
		return
	}

	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = embedding
	c.order = append(c.order, key)
}
