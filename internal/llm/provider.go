// Package llm provides the interface for chat answer generation.
package llm

import "context"

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a message in the generation prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// GenerateRequest represents a request to the LLM.
type GenerateRequest struct {
	// Messages is the prompt: conversation history plus the current turn.
	Messages []Message `json:"messages"`

	// SystemPrompt frames the assistant's behavior and carries the
	// retrieved context.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness in the response.
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateResponse represents a response from the LLM.
type GenerateResponse struct {
	Text       string     `json:"text"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns the total number of tokens used.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Provider defines the interface answer generators must implement.
type Provider interface {
	// Generate sends a generation request to the LLM and returns the response.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string

	// Model returns the model name being used.
	Model() string
}

// ProviderConfig holds configuration for LLM providers.
type ProviderConfig struct {
	// Provider is the provider name.
	Provider string `json:"provider"`

	// Model is the model to use.
	Model string `json:"model"`

	// APIKey is the API key for authentication.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible local
	// servers such as Ollama or LM Studio.
	BaseURL string `json:"base_url,omitempty"`

	// MaxTokens is the default maximum tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature is the default temperature.
	Temperature float64 `json:"temperature,omitempty"`
}

// DefaultProviderConfig returns the default provider configuration.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		MaxTokens:   2048,
		Temperature: 0.3,
	}
}
