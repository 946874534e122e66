package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/llm"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/rag"
	"github.com/docstack-ai/docstack/internal/storage"
)

// MockConversationStore implements ConversationStore in memory.
type MockConversationStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*storage.Conversation
	messages      map[uuid.UUID][]*storage.ChatMessage
	settings      map[uuid.UUID]storage.ChatSettings
	settingsErr   error
	appendErr     error
	messagesErr   error
}

func NewMockConversationStore() *MockConversationStore {
	return &MockConversationStore{
		conversations: make(map[uuid.UUID]*storage.Conversation),
		messages:      make(map[uuid.UUID][]*storage.ChatMessage),
		settings:      make(map[uuid.UUID]storage.ChatSettings),
	}
}

func (m *MockConversationStore) CreateConversation(ctx context.Context, conv *storage.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv.IsActive = true
	conv.CreatedAt = time.Now()
	m.conversations[conv.ID] = conv
	return nil
}

func (m *MockConversationStore) GetConversation(ctx context.Context, id uuid.UUID) (*storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (m *MockConversationStore) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID && conv.IsActive {
			copied := *conv
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockConversationStore) DeactivateConversation(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	conv.IsActive = false
	return nil
}

func (m *MockConversationStore) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*storage.ChatMessage, error) {
	if m.messagesErr != nil {
		return nil, m.messagesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.ChatMessage(nil), m.messages[conversationID]...), nil
}

func (m *MockConversationStore) GetMessageSources(ctx context.Context, messageID uuid.UUID) ([]storage.MessageSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == messageID {
				return msg.Sources, nil
			}
		}
	}
	return nil, nil
}

func (m *MockConversationStore) AppendMessage(ctx context.Context, msg *storage.ChatMessage) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *MockConversationStore) GetChatSettings(ctx context.Context, userID uuid.UUID) (storage.ChatSettings, error) {
	if m.settingsErr != nil {
		return storage.ChatSettings{}, m.settingsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return storage.DefaultChatSettings(userID), nil
}

func (m *MockConversationStore) UpsertChatSettings(ctx context.Context, s storage.ChatSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = s
	return nil
}

func (m *MockConversationStore) messagesFor(conversationID uuid.UUID) []*storage.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.ChatMessage(nil), m.messages[conversationID]...)
}

// MockRetriever implements Retriever.
type MockRetriever struct {
	chunks []storage.ChunkMatch
	err    error
}

func (m *MockRetriever) Retrieve(ctx context.Context, userID uuid.UUID, query string) (*rag.RetrievalResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rag.RetrievalResult{Chunks: m.chunks, Query: query}, nil
}

// MockProvider implements llm.Provider.
type MockProvider struct {
	response   string
	err        error
	delay      time.Duration
	lastPrompt string
}

func (m *MockProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.lastPrompt = req.SystemPrompt
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.GenerateResponse{
		Text:  m.response,
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 20},
		Model: "test-model",
	}, nil
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "test-model" }

// MockQuotaStore implements quota.Store.
type MockQuotaStore struct {
	remaining int
	err       error
	consumed  int
}

func (m *MockQuotaStore) Consume(ctx context.Context, userID uuid.UUID) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.consumed++
	return m.remaining, nil
}

func (m *MockQuotaStore) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	return m.remaining, nil
}

// MockDocumentTitles implements DocumentTitles.
type MockDocumentTitles struct {
	docs map[uuid.UUID]*storage.Document
}

func (m *MockDocumentTitles) GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error) {
	if doc, ok := m.docs[id]; ok {
		return doc, nil
	}
	return nil, storage.ErrNotFound
}

type orchestratorEnv struct {
	orch      *Orchestrator
	store     *MockConversationStore
	retriever *MockRetriever
	provider  *MockProvider
	quotas    *MockQuotaStore
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()
	env := &orchestratorEnv{
		store:     NewMockConversationStore(),
		retriever: &MockRetriever{},
		provider:  &MockProvider{response: "The answer [Source 1]."},
		quotas:    &MockQuotaStore{remaining: 42},
	}
	manager := NewManager(env.store, nil)
	builder := rag.NewContextBuilder(nil, rag.DefaultContextBuilderConfig())
	titles := &MockDocumentTitles{docs: make(map[uuid.UUID]*storage.Document)}

	orch, err := NewOrchestrator(manager, env.store, env.retriever, builder, env.provider, env.quotas, titles, DefaultOrchestratorConfig(), nil)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	env.orch = orch
	return env
}

func TestAsk_NewConversationWithSources(t *testing.T) {
	env := newOrchestratorEnv(t)
	docID := uuid.New()
	env.retriever.chunks = []storage.ChunkMatch{
		{DocumentID: docID, ChunkIndex: 2, Content: "Refunds are issued within 30 days.", Similarity: 0.88},
	}

	userID := uuid.New()
	resp, err := env.orch.Ask(context.Background(), userID, AskRequest{Message: "What is the refund policy?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if resp.ConversationID == uuid.Nil {
		t.Error("expected a new conversation to be created")
	}
	if resp.Answer != "The answer [Source 1]." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if resp.SearchResultsCount != 1 {
		t.Errorf("expected 1 search result, got %d", resp.SearchResultsCount)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if resp.Sources[0].DocumentID != docID {
		t.Error("source document mismatch")
	}
	if resp.QuotaRemaining != 42 {
		t.Errorf("expected quota remaining 42, got %d", resp.QuotaRemaining)
	}

	msgs := env.store.messagesFor(resp.ConversationID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != storage.RoleUser || msgs[1].Role != storage.RoleAssistant {
		t.Error("expected user message followed by assistant message")
	}
	if !strings.Contains(env.provider.lastPrompt, "SOURCE EXCERPTS:") {
		t.Error("expected source excerpts in the system prompt")
	}
}

func TestAsk_AutoTitlesNewConversation(t *testing.T) {
	env := newOrchestratorEnv(t)

	userID := uuid.New()
	resp, err := env.orch.Ask(context.Background(), userID, AskRequest{Message: "  How   do I   reset my password?  "})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	conv, err := env.store.GetConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Title != "How do I reset my password?" {
		t.Errorf("unexpected title: %q", conv.Title)
	}
}

func TestAsk_ZeroResultsStillAnswers(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.retriever.chunks = nil

	resp, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "Question with no matching documents"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if resp.SearchResultsCount != 0 {
		t.Errorf("expected 0 search results, got %d", resp.SearchResultsCount)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(resp.Sources))
	}
	if resp.Answer == "" {
		t.Error("expected an answer even with zero retrieval results")
	}
	if !strings.Contains(env.provider.lastPrompt, "No relevant source excerpts") {
		t.Error("expected the empty-context notice in the system prompt")
	}

	msgs := env.store.messagesFor(resp.ConversationID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	assistant := msgs[1]
	if !assistant.SearchResultsCount.Valid || assistant.SearchResultsCount.Int32 != 0 {
		t.Error("expected search_results_count 0 on the assistant message")
	}
}

func TestAsk_TimeoutKeepsUserMessage(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.provider.delay = time.Second

	cfg := DefaultOrchestratorConfig()
	cfg.GenerationTimeout = 10 * time.Millisecond
	manager := NewManager(env.store, nil)
	builder := rag.NewContextBuilder(nil, rag.DefaultContextBuilderConfig())
	titles := &MockDocumentTitles{docs: make(map[uuid.UUID]*storage.Document)}
	orch, err := NewOrchestrator(manager, env.store, env.retriever, builder, env.provider, env.quotas, titles, cfg, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	userID := uuid.New()
	conv, err := manager.StartConversation(context.Background(), userID, "Slow chat")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	_, err = orch.Ask(context.Background(), userID, AskRequest{ConversationID: conv.ID, Message: "Will this time out?"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	msgs := env.store.messagesFor(conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected the user message to survive the timeout, got %d messages", len(msgs))
	}
	if msgs[0].Role != storage.RoleUser {
		t.Error("expected the surviving message to be the user's")
	}
}

func TestAsk_QuotaExceeded(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.quotas.err = quota.ErrQuotaExceeded

	_, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "One too many"})
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(env.store.conversations) != 0 {
		t.Error("quota rejection must not create a conversation")
	}
}

func TestAsk_ForbiddenConversation(t *testing.T) {
	env := newOrchestratorEnv(t)

	owner := uuid.New()
	conv, err := env.orch.manager.StartConversation(context.Background(), owner, "Private")
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	_, err = env.orch.Ask(context.Background(), uuid.New(), AskRequest{ConversationID: conv.ID, Message: "Let me in"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAsk_EmptyMessageRejected(t *testing.T) {
	env := newOrchestratorEnv(t)

	_, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "   "})
	if err == nil {
		t.Fatal("expected error for empty message")
	}
	if env.quotas.consumed != 0 {
		t.Error("empty message must not consume quota")
	}
}

func TestAsk_RetrievalFailure(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.retriever.err = errors.New("index offline")

	_, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "Anything"})
	if !errors.Is(err, ErrRetrievalFailed) {
		t.Fatalf("expected ErrRetrievalFailed, got %v", err)
	}
}

func TestAsk_SourcesHiddenWhenDisabled(t *testing.T) {
	env := newOrchestratorEnv(t)
	userID := uuid.New()

	settings := storage.DefaultChatSettings(userID)
	settings.IncludeSources = false
	if err := env.store.UpsertChatSettings(context.Background(), settings); err != nil {
		t.Fatalf("UpsertChatSettings failed: %v", err)
	}

	env.retriever.chunks = []storage.ChunkMatch{
		{DocumentID: uuid.New(), Content: "chunk", Similarity: 0.9},
	}

	resp, err := env.orch.Ask(context.Background(), userID, AskRequest{Message: "Question"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(resp.Sources) != 0 {
		t.Error("expected sources to be omitted from the response")
	}

	// With sources disabled nothing is persisted either, so the
	// conversation's document references stay at zero.
	msgs := env.store.messagesFor(resp.ConversationID)
	if len(msgs[1].Sources) != 0 {
		t.Error("expected no sources persisted on the assistant message")
	}
}

func TestAsk_SnippetTruncated(t *testing.T) {
	env := newOrchestratorEnv(t)
	long := strings.Repeat("a", snippetLen*2)
	env.retriever.chunks = []storage.ChunkMatch{
		{DocumentID: uuid.New(), Content: long, Similarity: 0.9},
	}

	resp, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "Question"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if len(resp.Sources[0].ContentSnippet) != snippetLen {
		t.Errorf("expected snippet capped at %d, got %d", snippetLen, len(resp.Sources[0].ContentSnippet))
	}
}

func TestAsk_SnippetTruncatedOnRuneBoundary(t *testing.T) {
	env := newOrchestratorEnv(t)
	long := strings.Repeat("ü", snippetLen)
	env.retriever.chunks = []storage.ChunkMatch{
		{DocumentID: uuid.New(), Content: long, Similarity: 0.9},
	}

	resp, err := env.orch.Ask(context.Background(), uuid.New(), AskRequest{Message: "Question"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	snippet := resp.Sources[0].ContentSnippet
	if len(snippet) > snippetLen {
		t.Errorf("expected snippet capped at %d bytes, got %d", snippetLen, len(snippet))
	}
	if !utf8.ValidString(snippet) {
		t.Error("snippet truncation split a multi-byte character")
	}
}
