package chat

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/storage"
)

// maxAutoTitleLen caps titles derived from the first user message.
const maxAutoTitleLen = 50

// ConversationStore is the persistence surface the chat layer needs.
// *storage.ConversationRepo satisfies it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *storage.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*storage.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Conversation, error)
	DeactivateConversation(ctx context.Context, id uuid.UUID) error
	GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*storage.ChatMessage, error)
	GetMessageSources(ctx context.Context, messageID uuid.UUID) ([]storage.MessageSource, error)
	AppendMessage(ctx context.Context, msg *storage.ChatMessage) error
	GetChatSettings(ctx context.Context, userID uuid.UUID) (storage.ChatSettings, error)
	UpsertChatSettings(ctx context.Context, s storage.ChatSettings) error
}

// Manager owns conversation lifecycle and enforces per-user ownership on
// every access.
type Manager struct {
	store  ConversationStore
	logger *slog.Logger
}

// NewManager creates a conversation manager.
func NewManager(store ConversationStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "conversation_manager"),
	}
}

// StartConversation creates a conversation. An empty title gets a
// placeholder until the first message sets one.
func (m *Manager) StartConversation(ctx context.Context, userID uuid.UUID, title string) (*storage.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}

	conv := &storage.Conversation{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetOwned loads a conversation and checks it belongs to the user.
// Conversations of other users are hidden behind ErrForbidden, never
// leaked as ErrNotFound distinctions.
func (m *Manager) GetOwned(ctx context.Context, userID, conversationID uuid.UUID) (*storage.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		m.logger.Warn("cross-user conversation access rejected",
			"conversation_id", conversationID,
			"owner_id", conv.UserID,
			"user_id", userID,
		)
		return nil, ErrForbidden
	}
	return conv, nil
}

// List returns the user's active conversations, most recently updated first.
func (m *Manager) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Conversation, error) {
	return m.store.ListConversations(ctx, userID, limit, offset)
}

// Delete soft-deletes a conversation after an ownership check. Messages and
// reference counts stay in place for audit.
func (m *Manager) Delete(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := m.GetOwned(ctx, userID, conversationID); err != nil {
		return err
	}
	return m.store.DeactivateConversation(ctx, conversationID)
}

// History returns a conversation's messages with sources attached to the
// assistant turns.
func (m *Manager) History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]*storage.ChatMessage, error) {
	if _, err := m.GetOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := m.store.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		if msg.Role != storage.RoleAssistant {
			continue
		}
		sources, err := m.store.GetMessageSources(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.Sources = sources
	}
	return messages, nil
}

// Settings returns the user's chat settings, defaults included.
func (m *Manager) Settings(ctx context.Context, userID uuid.UUID) (storage.ChatSettings, error) {
	return m.store.GetChatSettings(ctx, userID)
}

// UpdateSettings stores the user's chat settings.
func (m *Manager) UpdateSettings(ctx context.Context, s storage.ChatSettings) error {
	return m.store.UpsertChatSettings(ctx, s)
}

// autoTitle derives a conversation title from the first user message.
func autoTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return "New conversation"
	}
	if utf8.RuneCountInString(title) <= maxAutoTitleLen {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxAutoTitleLen-3])) + "..."
}
