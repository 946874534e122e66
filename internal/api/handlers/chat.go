package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/docstack-ai/docstack/internal/api/middleware"
	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/storage"
)

// HandleChat handles POST /chat: one retrieval-augmented turn.
func HandleChat(svc ChatService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		var req chat.AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if req.Message == "" {
			RespondBadRequest(w, "Message must not be empty")
			return
		}

		resp, err := svc.Ask(r.Context(), userID, req)
		if err != nil {
			switch {
			case errors.Is(err, quota.ErrQuotaExceeded):
				RespondQuotaExceeded(w)
			case errors.Is(err, chat.ErrForbidden):
				RespondForbidden(w, "")
			case errors.Is(err, storage.ErrNotFound):
				RespondNotFound(w, "Conversation not found")
			case errors.Is(err, chat.ErrRetrievalFailed):
				logger.Error("retrieval failed", "user_id", userID, "error", err)
				RespondServiceUnavailable(w, "Source retrieval failed")
			case errors.Is(err, chat.ErrTimeout):
				RespondTimeout(w, "Answer generation timed out")
			case errors.Is(err, chat.ErrGenerationFailed):
				logger.Error("generation failed", "user_id", userID, "error", err)
				RespondServiceUnavailable(w, "Answer generation failed")
			default:
				logger.Error("chat request failed", "user_id", userID, "error", err)
				RespondInternalError(w, "")
			}
			return
		}

		RespondJSON(w, http.StatusOK, resp)
	}
}
