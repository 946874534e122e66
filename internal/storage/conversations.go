package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ConversationRepo persists conversations, messages, message sources and
// per-conversation document reference counts.
type ConversationRepo struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewConversationRepo creates a new ConversationRepo.
func NewConversationRepo(db *PostgresDB, logger *slog.Logger) *ConversationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationRepo{
		db:     db,
		logger: logger.With("component", "conversation_repo"),
	}
}

// CreateConversation inserts a new active conversation.
func (r *ConversationRepo) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.IsActive = true
	if conv.Metadata == nil {
		conv.Metadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO conversations (id, user_id, title, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.IsActive, conv.Metadata,
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create conversation", "error", err)
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	r.logger.Info("conversation created", "conversation_id", conv.ID, "user_id", conv.UserID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (r *ConversationRepo) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, user_id, title, is_active, metadata, created_at, updated_at
		FROM conversations WHERE id = $1
	`

	var conv Conversation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.IsActive, &conv.Metadata,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, title, is_active, metadata, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND is_active = true
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.IsActive,
			&conv.Metadata, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// DeactivateConversation soft-deletes a conversation.
func (r *ConversationRepo) DeactivateConversation(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessages returns a conversation's messages in creation order.
func (r *ConversationRepo) GetMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, conversation_id, role, content, response_time_ms,
			   search_results_count, metadata, created_at
		FROM chat_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*ChatMessage
	for rows.Next() {
		var msg ChatMessage
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.ResponseTimeMs, &msg.SearchResultsCount, &msg.Metadata, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// GetMessageSources returns the sources attached to a message.
func (r *ConversationRepo) GetMessageSources(ctx context.Context, messageID uuid.UUID) ([]MessageSource, error) {
	query := `
		SELECT id, message_id, document_id, chunk_index, similarity,
			   content_snippet, metadata, created_at
		FROM message_sources
		WHERE message_id = $1
		ORDER BY similarity DESC
	`
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message sources: %w", err)
	}
	defer rows.Close()

	var sources []MessageSource
	for rows.Next() {
		var src MessageSource
		err := rows.Scan(&src.ID, &src.MessageID, &src.DocumentID, &src.ChunkIndex,
			&src.Similarity, &src.ContentSnippet, &src.Metadata, &src.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// AppendMessage writes a message, its sources and the per-conversation
// document reference counts as a single transaction. A message is never
// visible with only some of its sources persisted, and the reference count
// increments exactly once per distinct document cited by the message.
func (r *ConversationRepo) AppendMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Metadata == nil {
		msg.Metadata = json.RawMessage("{}")
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (id, conversation_id, role, content,
				response_time_ms, search_results_count, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, msg.ID, msg.ConversationID, msg.Role, msg.Content,
			msg.ResponseTimeMs, msg.SearchResultsCount, msg.Metadata, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		for i := range msg.Sources {
			src := &msg.Sources[i]
			if src.ID == uuid.Nil {
				src.ID = uuid.New()
			}
			src.MessageID = msg.ID
			src.Similarity = ClampSimilarity(src.Similarity)
			src.CreatedAt = msg.CreatedAt
			if src.Metadata == nil {
				src.Metadata = json.RawMessage("{}")
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO message_sources (id, message_id, document_id, chunk_index,
					similarity, content_snippet, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, src.ID, src.MessageID, src.DocumentID, src.ChunkIndex,
				src.Similarity, src.ContentSnippet, src.Metadata, src.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert message source: %w", err)
			}
		}

		for _, docID := range distinctSourceDocuments(msg.Sources) {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_documents (conversation_id, document_id,
					first_referenced_at, reference_count)
				VALUES ($1, $2, $3, 1)
				ON CONFLICT (conversation_id, document_id) DO UPDATE SET
					reference_count = conversation_documents.reference_count + 1
			`, msg.ConversationID, docID, msg.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert conversation document: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
			msg.ConversationID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}

		return nil
	})
}

// distinctSourceDocuments returns each cited document once, in first-seen
// order. A message citing several chunks of one document still counts as a
// single reference to it.
func distinctSourceDocuments(sources []MessageSource) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(sources))
	var docs []uuid.UUID
	for _, src := range sources {
		if seen[src.DocumentID] {
			continue
		}
		seen[src.DocumentID] = true
		docs = append(docs, src.DocumentID)
	}
	return docs
}

// GetConversationDocument returns the reference-count row for a
// (conversation, document) pair.
func (r *ConversationRepo) GetConversationDocument(ctx context.Context, conversationID, documentID uuid.UUID) (*ConversationDocument, error) {
	query := `
		SELECT conversation_id, document_id, first_referenced_at, reference_count
		FROM conversation_documents
		WHERE conversation_id = $1 AND document_id = $2
	`

	var cd ConversationDocument
	err := r.db.QueryRowContext(ctx, query, conversationID, documentID).Scan(
		&cd.ConversationID, &cd.DocumentID, &cd.FirstReferencedAt, &cd.ReferenceCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation document: %w", err)
	}
	return &cd, nil
}

// GetChatSettings loads a user's chat settings, falling back to defaults
// when the user has none stored.
func (r *ConversationRepo) GetChatSettings(ctx context.Context, userID uuid.UUID) (ChatSettings, error) {
	query := `
		SELECT user_id, max_search_results, similarity_threshold, response_style,
			   include_sources, auto_title_conversations
		FROM user_chat_settings WHERE user_id = $1
	`

	var s ChatSettings
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.MaxSearchResults, &s.SimilarityThreshold,
		&s.ResponseStyle, &s.IncludeSources, &s.AutoTitleConversations)
	if err == sql.ErrNoRows {
		return DefaultChatSettings(userID), nil
	}
	if err != nil {
		return ChatSettings{}, fmt.Errorf("failed to get chat settings: %w", err)
	}

	if s.MaxSearchResults < 1 {
		s.MaxSearchResults = 1
	}
	s.SimilarityThreshold = ClampSimilarity(s.SimilarityThreshold)
	return s, nil
}

// UpsertChatSettings stores a user's chat settings.
func (r *ConversationRepo) UpsertChatSettings(ctx context.Context, s ChatSettings) error {
	if s.MaxSearchResults < 1 {
		return fmt.Errorf("max_search_results must be >= 1, got %d", s.MaxSearchResults)
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %f", s.SimilarityThreshold)
	}

	query := `
		INSERT INTO user_chat_settings (user_id, max_search_results, similarity_threshold,
			response_style, include_sources, auto_title_conversations)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			max_search_results = EXCLUDED.max_search_results,
			similarity_threshold = EXCLUDED.similarity_threshold,
			response_style = EXCLUDED.response_style,
			include_sources = EXCLUDED.include_sources,
			auto_title_conversations = EXCLUDED.auto_title_conversations
	`
	_, err := r.db.ExecContext(ctx, query,
		s.UserID, s.MaxSearchResults, s.SimilarityThreshold,
		s.ResponseStyle, s.IncludeSources, s.AutoTitleConversations)
	if err != nil {
		return fmt.Errorf("failed to upsert chat settings: %w", err)
	}
	return nil
}
