package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/api/middleware"
	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/storage"
)

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// CreateConversation handles POST /conversations.
func CreateConversation(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}

		conv, err := svc.StartConversation(r.Context(), userID, req.Title)
		if err != nil {
			logger.Error("failed to create conversation", "user_id", userID, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondCreated(w, conv)
	}
}

// ListConversations handles GET /conversations.
func ListConversations(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		limit, offset := pagination(r)

		convs, err := svc.List(r.Context(), userID, limit, offset)
		if err != nil {
			logger.Error("failed to list conversations", "user_id", userID, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondSuccess(w, convs)
	}
}

// GetConversation handles GET /conversations/{id}.
func GetConversation(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		conv, err := svc.GetOwned(r.Context(), userID, conversationID)
		if err != nil {
			respondConversationError(w, logger, err)
			return
		}
		RespondSuccess(w, conv)
	}
}

// DeleteConversation handles DELETE /conversations/{id}.
func DeleteConversation(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		if err := svc.Delete(r.Context(), userID, conversationID); err != nil {
			respondConversationError(w, logger, err)
			return
		}
		RespondNoContent(w)
	}
}

// GetConversationMessages handles GET /conversations/{id}/messages.
func GetConversationMessages(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		limit, offset := pagination(r)

		conversationID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid conversation ID")
			return
		}

		messages, err := svc.History(r.Context(), userID, conversationID, limit, offset)
		if err != nil {
			respondConversationError(w, logger, err)
			return
		}
		RespondSuccess(w, messages)
	}
}

// GetChatSettings handles GET /settings/chat.
func GetChatSettings(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		settings, err := svc.Settings(r.Context(), userID)
		if err != nil {
			logger.Error("failed to load chat settings", "user_id", userID, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondSuccess(w, settings)
	}
}

// UpdateChatSettings handles PUT /settings/chat.
func UpdateChatSettings(svc ConversationService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		var settings storage.ChatSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		settings.UserID = userID

		if err := svc.UpdateSettings(r.Context(), settings); err != nil {
			RespondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}
		RespondSuccess(w, settings)
	}
}

func respondConversationError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		RespondNotFound(w, "Conversation not found")
	case errors.Is(err, chat.ErrForbidden):
		RespondForbidden(w, "")
	default:
		logger.Error("conversation request failed", "error", err)
		RespondInternalError(w, "")
	}
}
