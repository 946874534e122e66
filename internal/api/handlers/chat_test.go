package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/quota"
)

type MockChatService struct {
	response *chat.AskResponse
	err      error

	askCalled  bool
	lastUserID uuid.UUID
	lastReq    chat.AskRequest
}

func (m *MockChatService) Ask(ctx context.Context, userID uuid.UUID, req chat.AskRequest) (*chat.AskResponse, error) {
	m.askCalled = true
	m.lastUserID = userID
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func chatRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(data))
}

func TestHandleChat_Success(t *testing.T) {
	convID := uuid.New()
	svc := &MockChatService{
		response: &chat.AskResponse{
			ConversationID:     convID,
			MessageID:          uuid.New(),
			Answer:             "The handbook allows 25 vacation days.",
			SearchResultsCount: 3,
			QuotaRemaining:     199,
		},
	}

	req := chatRequest(t, chat.AskRequest{Message: "How many vacation days do I get?"})
	rec := httptest.NewRecorder()

	HandleChat(svc, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !svc.askCalled {
		t.Fatal("expected service to be called")
	}
	if svc.lastReq.Message != "How many vacation days do I get?" {
		t.Errorf("unexpected message passed to service: %q", svc.lastReq.Message)
	}

	var resp chat.AskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ConversationID != convID {
		t.Errorf("expected conversation ID %s, got %s", convID, resp.ConversationID)
	}
	if resp.SearchResultsCount != 3 {
		t.Errorf("expected 3 search results, got %d", resp.SearchResultsCount)
	}
}

func TestHandleChat_RejectsEmptyMessage(t *testing.T) {
	svc := &MockChatService{}

	req := chatRequest(t, chat.AskRequest{Message: ""})
	rec := httptest.NewRecorder()

	HandleChat(svc, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if svc.askCalled {
		t.Error("service should not be called for an empty message")
	}
}

func TestHandleChat_RejectsMalformedBody(t *testing.T) {
	svc := &MockChatService{}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	HandleChat(svc, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"quota exceeded", quota.ErrQuotaExceeded, http.StatusTooManyRequests, ErrCodeQuotaExceeded},
		{"forbidden conversation", chat.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
		{"generation timeout", chat.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"generation failed", chat.ErrGenerationFailed, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"retrieval failed", chat.ErrRetrievalFailed, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockChatService{err: tt.err}

			req := chatRequest(t, chat.AskRequest{Message: "hello"})
			rec := httptest.NewRecorder()

			HandleChat(svc, testLogger())(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("expected error code %s, got %+v", tt.wantCode, resp.Error)
			}
		})
	}
}
