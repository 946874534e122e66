package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/llm"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/rag"
	"github.com/docstack-ai/docstack/internal/storage"
)

// defaultSystemPrompt frames the assistant as a grounded document Q&A
// helper. The retrieved excerpts are appended below it.
const defaultSystemPrompt = `You are a document assistant. Answer the user's question using only the source excerpts provided below.

RULES:
1. Cite sources with [Source N] markers referencing the numbered excerpts.
2. If the excerpts do not contain the answer, say so clearly. Do not fabricate content.
3. Keep answers grounded: every factual claim should trace back to an excerpt.`

// snippetLen caps the stored content snippet per cited source.
const snippetLen = 200

// Retriever is the retrieval surface the orchestrator calls.
// *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, userID uuid.UUID, query string) (*rag.RetrievalResult, error)
}

// DocumentTitles resolves document IDs to display names for prompts and
// citations. *storage.DocumentRepo satisfies it.
type DocumentTitles interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
}

// OrchestratorConfig holds configuration for the chat orchestrator.
type OrchestratorConfig struct {
	SystemPrompt      string
	GenerationTimeout time.Duration
	HistoryLimit      int
	MaxTokens         int
	Temperature       float64
}

// DefaultOrchestratorConfig returns the default orchestrator configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SystemPrompt:      defaultSystemPrompt,
		GenerationTimeout: 30 * time.Second,
		HistoryLimit:      20,
		MaxTokens:         2048,
		Temperature:       0.3,
	}
}

// AskRequest represents one chat turn. A nil ConversationID starts a new
// conversation.
type AskRequest struct {
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	Message        string    `json:"message"`
}

// AskResponse represents the answer to one chat turn.
type AskResponse struct {
	ConversationID     uuid.UUID               `json:"conversation_id"`
	MessageID          uuid.UUID               `json:"message_id"`
	Answer             string                  `json:"answer"`
	Sources            []storage.MessageSource `json:"sources,omitempty"`
	SearchResultsCount int                     `json:"search_results_count"`
	ResponseTimeMs     int64                   `json:"response_time_ms"`
	QuotaRemaining     int                     `json:"quota_remaining"`
	Usage              llm.Usage               `json:"usage"`
	Model              string                  `json:"model"`
}

// Orchestrator runs the ask flow: quota, persistence, retrieval, generation
// and citation bookkeeping.
type Orchestrator struct {
	manager   *Manager
	store     ConversationStore
	retriever Retriever
	builder   *rag.ContextBuilder
	provider  llm.Provider
	quotas    quota.Store
	documents DocumentTitles
	config    OrchestratorConfig
	logger    *slog.Logger
}

// NewOrchestrator creates a chat orchestrator.
func NewOrchestrator(
	manager *Manager,
	store ConversationStore,
	retriever Retriever,
	builder *rag.ContextBuilder,
	provider llm.Provider,
	quotas quota.Store,
	documents DocumentTitles,
	config OrchestratorConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("LLM provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 30 * time.Second
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 20
	}

	return &Orchestrator{
		manager:   manager,
		store:     store,
		retriever: retriever,
		builder:   builder,
		provider:  provider,
		quotas:    quotas,
		documents: documents,
		config:    config,
		logger:    logger.With("component", "orchestrator", "provider", provider.Name()),
	}, nil
}

// Ask answers one user message with retrieval-augmented generation. The
// user's message is persisted before generation starts, so a failed or
// timed-out generation never loses it. Zero retrieval results are a valid
// outcome: the model answers from the conversation alone and the assistant
// message records search_results_count = 0.
func (o *Orchestrator) Ask(ctx context.Context, userID uuid.UUID, req AskRequest) (*AskResponse, error) {
	start := time.Now()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	remaining, err := o.quotas.Consume(ctx, userID)
	if err != nil {
		return nil, err
	}

	settings, err := o.store.GetChatSettings(ctx, userID)
	if err != nil {
		settings = storage.DefaultChatSettings(userID)
	}

	conv, err := o.resolveConversation(ctx, userID, req.ConversationID, message, settings)
	if err != nil {
		return nil, err
	}

	userMsg := &storage.ChatMessage{
		ConversationID: conv.ID,
		Role:           storage.RoleUser,
		Content:        message,
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	history, err := o.store.GetMessages(ctx, conv.ID, o.config.HistoryLimit, 0)
	if err != nil {
		o.logger.Warn("failed to load history, answering without it",
			"conversation_id", conv.ID, "error", err)
		history = []*storage.ChatMessage{userMsg}
	}

	retrieval, err := o.retriever.Retrieve(ctx, userID, message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	titles := o.resolveTitles(ctx, retrieval.Chunks)
	built := o.builder.Build(retrieval.Chunks, titles)

	answer, usage, err := o.generate(ctx, history, built.Text)
	if err != nil {
		return nil, err
	}

	responseTime := time.Since(start).Milliseconds()

	// Retrieval always ranks chunks into the prompt; include_sources only
	// controls citations. When it is off, none are persisted or exposed and
	// the conversation's document references stay untouched.
	var sources []storage.MessageSource
	if settings.IncludeSources {
		sources = buildSources(built.IncludedChunks)
	}

	assistantMsg := &storage.ChatMessage{
		ConversationID:     conv.ID,
		Role:               storage.RoleAssistant,
		Content:            answer,
		ResponseTimeMs:     sql.NullInt32{Int32: int32(responseTime), Valid: true},
		SearchResultsCount: sql.NullInt32{Int32: int32(len(retrieval.Chunks)), Valid: true},
		Sources:            sources,
	}
	if err := o.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	o.logger.Info("chat turn completed",
		"conversation_id", conv.ID,
		"user_id", userID,
		"search_results", len(retrieval.Chunks),
		"cited_sources", len(assistantMsg.Sources),
		"duration_ms", responseTime,
	)

	return &AskResponse{
		ConversationID:     conv.ID,
		MessageID:          assistantMsg.ID,
		Answer:             answer,
		Sources:            assistantMsg.Sources,
		SearchResultsCount: len(retrieval.Chunks),
		ResponseTimeMs:     responseTime,
		QuotaRemaining:     remaining,
		Usage:              usage,
		Model:              o.provider.Model(),
	}, nil
}

// resolveConversation loads the addressed conversation with an ownership
// check, or starts a new one when none is addressed.
func (o *Orchestrator) resolveConversation(ctx context.Context, userID, conversationID uuid.UUID, message string, settings storage.ChatSettings) (*storage.Conversation, error) {
	if conversationID != uuid.Nil {
		return o.manager.GetOwned(ctx, userID, conversationID)
	}

	title := "New conversation"
	if settings.AutoTitleConversations {
		title = autoTitle(message)
	}
	return o.manager.StartConversation(ctx, userID, title)
}

// generate calls the LLM under the configured deadline.
func (o *Orchestrator) generate(ctx context.Context, history []*storage.ChatMessage, contextBlock string) (string, llm.Usage, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.config.GenerationTimeout)
	defer cancel()

	systemPrompt := o.config.SystemPrompt
	if contextBlock != "" {
		systemPrompt += "\n\nSOURCE EXCERPTS:\n" + contextBlock
	} else {
		systemPrompt += "\n\nNo relevant source excerpts were found for this question."
	}

	messages := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		role := llm.RoleUser
		if msg.Role == storage.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: msg.Content})
	}

	response, err := o.provider.Generate(genCtx, llm.GenerateRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		MaxTokens:    o.config.MaxTokens,
		Temperature:  o.config.Temperature,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() == context.DeadlineExceeded {
			o.logger.Warn("generation timed out", "timeout", o.config.GenerationTimeout)
			return "", llm.Usage{}, ErrTimeout
		}
		return "", llm.Usage{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return response.Text, response.Usage, nil
}

// resolveTitles maps the retrieved documents to their file names.
func (o *Orchestrator) resolveTitles(ctx context.Context, chunks []storage.ChunkMatch) map[uuid.UUID]string {
	titles := make(map[uuid.UUID]string)
	for _, chunk := range chunks {
		if _, ok := titles[chunk.DocumentID]; ok {
			continue
		}
		doc, err := o.documents.GetByID(ctx, chunk.DocumentID)
		if err != nil {
			o.logger.Warn("failed to resolve document title",
				"document_id", chunk.DocumentID, "error", err)
			continue
		}
		titles[chunk.DocumentID] = doc.FileName
	}
	return titles
}

// buildSources turns the chunks that made it into the prompt into message
// sources.
func buildSources(chunks []storage.ChunkMatch) []storage.MessageSource {
	sources := make([]storage.MessageSource, 0, len(chunks))
	for _, chunk := range chunks {
		snippet := truncateSnippet(chunk.Content)
		sources = append(sources, storage.MessageSource{
			DocumentID:     chunk.DocumentID,
			ChunkIndex:     sql.NullInt32{Int32: int32(chunk.ChunkIndex), Valid: true},
			Similarity:     chunk.Similarity,
			ContentSnippet: snippet,
		})
	}
	return sources
}

// truncateSnippet caps a snippet at snippetLen bytes without splitting a
// UTF-8 sequence.
func truncateSnippet(s string) string {
	if len(s) <= snippetLen {
		return s
	}
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
