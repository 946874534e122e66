// Package chunker provides token-window text chunking for indexing.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Config holds configuration for the chunker.
type Config struct {
	MaxTokens     int    // Maximum tokens per chunk (default: 512)
	OverlapTokens int    // Overlap tokens between consecutive chunks (default: 50)
	Encoding      string // tiktoken encoding (default: "cl100k_base")
}

// DefaultConfig returns default chunker configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     512,
		OverlapTokens: 50,
		Encoding:      "cl100k_base",
	}
}

// Chunk is one contiguous text segment of a document. Indices are 0-based
// and contiguous with no gaps.
type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// Chunker splits extracted document text into token windows.
type Chunker struct {
	config    Config
	tokenizer *tiktoken.Tiktoken
}

// New creates a new Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 10
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	return &Chunker{config: cfg, tokenizer: tokenizer}, nil
}

// Split chunks text into overlapping token windows. Empty or whitespace-only
// text yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	tokens := c.tokenizer.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}

	step := c.config.MaxTokens - c.config.OverlapTokens
	var chunks []Chunk

	for start := 0; start < len(tokens); start += step {
		end := start + c.config.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		window := tokens[start:end]
		content := strings.TrimSpace(c.tokenizer.Decode(window))
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Content:    content,
				TokenCount: len(window),
			})
		}

		if end == len(tokens) {
			break
		}
	}

	return chunks
}

// CountTokens returns the token count of text under the configured encoding.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}
