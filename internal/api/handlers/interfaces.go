package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/storage"
)

// ChatService answers chat turns. *chat.Orchestrator satisfies it.
type ChatService interface {
	Ask(ctx context.Context, userID uuid.UUID, req chat.AskRequest) (*chat.AskResponse, error)
}

// ConversationService manages conversation lifecycle. *chat.Manager
// satisfies it.
type ConversationService interface {
	StartConversation(ctx context.Context, userID uuid.UUID, title string) (*storage.Conversation, error)
	GetOwned(ctx context.Context, userID, conversationID uuid.UUID) (*storage.Conversation, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Conversation, error)
	Delete(ctx context.Context, userID, conversationID uuid.UUID) error
	History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]*storage.ChatMessage, error)
	Settings(ctx context.Context, userID uuid.UUID) (storage.ChatSettings, error)
	UpdateSettings(ctx context.Context, s storage.ChatSettings) error
}

// DocumentService fronts the document pipeline. *chat.DocumentService
// satisfies it.
type DocumentService interface {
	Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*storage.Document, bool, error)
	Get(ctx context.Context, userID, documentID uuid.UUID) (*storage.Document, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Document, error)
	Retry(ctx context.Context, userID, documentID uuid.UUID) error
	Status(ctx context.Context, userID, documentID uuid.UUID) (processor.StatusRecord, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Health(ctx context.Context) error
}
