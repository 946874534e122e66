// Package storage provides database models and repository types.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle status of an uploaded document.
type DocumentStatus string

// Document lifecycle states. Transitions between them are owned by the
// processor package; everything else treats the status as read-only.
const (
	StatusPending             DocumentStatus = "pending"
	StatusUploading           DocumentStatus = "uploading"
	StatusCompleted           DocumentStatus = "completed"
	StatusFailed              DocumentStatus = "failed"
	StatusConverting          DocumentStatus = "converting"
	StatusConversionCompleted DocumentStatus = "conversion_completed"
	StatusConversionFailed    DocumentStatus = "conversion_failed"
	StatusIndexing            DocumentStatus = "indexing"
	StatusIndexed             DocumentStatus = "indexed"
	StatusIndexingFailed      DocumentStatus = "indexing_failed"
)

// Terminal reports whether the status is a terminal state.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusConversionFailed, StatusIndexingFailed, StatusIndexed:
		return true
	}
	return false
}

// Document represents a content-addressed user upload.
type Document struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	FileName         string          `json:"file_name" db:"file_name"`
	FileSize         int64           `json:"file_size" db:"file_size"`
	ContentHash      string          `json:"content_hash" db:"content_hash"`
	FileType         string          `json:"file_type" db:"file_type"`
	StoragePath      string          `json:"storage_path" db:"storage_path"`
	Status           DocumentStatus  `json:"status" db:"status"`
	UploadProgress   int             `json:"upload_progress" db:"upload_progress"`
	ContentExtracted bool            `json:"content_extracted" db:"content_extracted"`
	ContentText      sql.NullString  `json:"-" db:"content_text"`
	ChunksCount      int             `json:"chunks_count" db:"chunks_count"`
	VectorsCount     int             `json:"vectors_count" db:"vectors_count"`
	VectorIndexed    bool            `json:"vector_indexed" db:"vector_indexed"`
	IndexMetadata    json.RawMessage `json:"index_metadata,omitempty" db:"index_metadata"`
	ErrorMessage     sql.NullString  `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Conversation represents a chat conversation owned by one user.
type Conversation struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	Title     string          `json:"title" db:"title"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents one turn in a conversation. Immutable after creation.
type ChatMessage struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	ConversationID     uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	Role               string          `json:"role" db:"role"`
	Content            string          `json:"content" db:"content"`
	ResponseTimeMs     sql.NullInt32   `json:"response_time_ms,omitempty" db:"response_time_ms"`
	SearchResultsCount sql.NullInt32   `json:"search_results_count,omitempty" db:"search_results_count"`
	Metadata           json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	Sources            []MessageSource `json:"sources,omitempty" db:"-"`
}

// MessageSource attaches a retrieved chunk to an assistant message.
type MessageSource struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	MessageID      uuid.UUID       `json:"message_id" db:"message_id"`
	DocumentID     uuid.UUID       `json:"document_id" db:"document_id"`
	ChunkIndex     sql.NullInt32   `json:"chunk_index,omitempty" db:"chunk_index"`
	Similarity     float64         `json:"similarity" db:"similarity"`
	ContentSnippet string          `json:"content_snippet" db:"content_snippet"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ConversationDocument tracks how often a conversation has cited a document.
type ConversationDocument struct {
	ConversationID    uuid.UUID `json:"conversation_id" db:"conversation_id"`
	DocumentID        uuid.UUID `json:"document_id" db:"document_id"`
	FirstReferencedAt time.Time `json:"first_referenced_at" db:"first_referenced_at"`
	ReferenceCount    int       `json:"reference_count" db:"reference_count"`
}

// ChatSettings holds per-user retrieval configuration.
type ChatSettings struct {
	UserID                 uuid.UUID `json:"user_id" db:"user_id"`
	MaxSearchResults       int       `json:"max_search_results" db:"max_search_results"`
	SimilarityThreshold    float64   `json:"similarity_threshold" db:"similarity_threshold"`
	ResponseStyle          string    `json:"response_style" db:"response_style"`
	IncludeSources         bool      `json:"include_sources" db:"include_sources"`
	AutoTitleConversations bool      `json:"auto_title_conversations" db:"auto_title_conversations"`
}

// DefaultChatSettings returns the settings applied when a user has none stored.
func DefaultChatSettings(userID uuid.UUID) ChatSettings {
	return ChatSettings{
		UserID:                 userID,
		MaxSearchResults:       10,
		SimilarityThreshold:    0.7,
		ResponseStyle:          "balanced",
		IncludeSources:         true,
		AutoTitleConversations: true,
	}
}

// ClampSimilarity normalizes a similarity score into [0,1].
func ClampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
