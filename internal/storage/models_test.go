package storage

import (
	"testing"

	"github.com/google/uuid"
)

func TestDocumentStatus_Terminal(t *testing.T) {
	terminal := []DocumentStatus{StatusFailed, StatusConversionFailed, StatusIndexingFailed, StatusIndexed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	transient := []DocumentStatus{
		StatusPending, StatusUploading, StatusCompleted,
		StatusConverting, StatusConversionCompleted, StatusIndexing,
	}
	for _, s := range transient {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("content"))
	b := HashContent([]byte("content"))
	c := HashContent([]byte("different"))

	if a != b {
		t.Error("identical bytes must hash identically")
	}
	if a == c {
		t.Error("different bytes must not collide")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
}

func TestDefaultChatSettings(t *testing.T) {
	userID := uuid.New()
	s := DefaultChatSettings(userID)

	if s.UserID != userID {
		t.Error("expected user ID to be set")
	}
	if s.MaxSearchResults != 10 {
		t.Errorf("expected MaxSearchResults 10, got %d", s.MaxSearchResults)
	}
	if s.SimilarityThreshold != 0.7 {
		t.Errorf("expected SimilarityThreshold 0.7, got %f", s.SimilarityThreshold)
	}
	if !s.IncludeSources || !s.AutoTitleConversations {
		t.Error("expected sources and auto-title enabled by default")
	}
}

func TestClampSimilarity(t *testing.T) {
	if got := ClampSimilarity(-0.3); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := ClampSimilarity(1.2); got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
	if got := ClampSimilarity(0.42); got != 0.42 {
		t.Errorf("expected 0.42, got %f", got)
	}
}
