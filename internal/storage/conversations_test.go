package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestDistinctSourceDocuments(t *testing.T) {
	docA := uuid.New()
	docB := uuid.New()

	t.Run("deduplicates repeated documents", func(t *testing.T) {
		sources := []MessageSource{
			{DocumentID: docA},
			{DocumentID: docA},
			{DocumentID: docB},
			{DocumentID: docA},
		}

		docs := distinctSourceDocuments(sources)
		if len(docs) != 2 {
			t.Fatalf("expected 2 distinct documents, got %d", len(docs))
		}
		if docs[0] != docA || docs[1] != docB {
			t.Errorf("expected first-seen order [%s %s], got %v", docA, docB, docs)
		}
	})

	t.Run("empty sources", func(t *testing.T) {
		if docs := distinctSourceDocuments(nil); len(docs) != 0 {
			t.Errorf("expected no documents, got %v", docs)
		}
	})

	t.Run("single document many chunks", func(t *testing.T) {
		sources := []MessageSource{
			{DocumentID: docA},
			{DocumentID: docA},
			{DocumentID: docA},
		}
		if docs := distinctSourceDocuments(sources); len(docs) != 1 {
			t.Errorf("expected one reference for one document, got %d", len(docs))
		}
	})
}

func newMockRepo(t *testing.T) (*ConversationRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewConversationRepo(&PostgresDB{DB: mockDB}, nil), mock
}

func expectReferenceUpsert(mock sqlmock.Sqlmock, convID, docID uuid.UUID) {
	mock.ExpectExec("INSERT INTO conversation_documents").
		WithArgs(convID, docID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestAppendMessage_ReferenceCountOncePerDistinctDocument(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID, docA, docB := uuid.New(), uuid.New(), uuid.New()

	msg := &ChatMessage{
		ConversationID: convID,
		Role:           "assistant",
		Content:        "answer",
		Sources: []MessageSource{
			{DocumentID: docA, Similarity: 0.9},
			{DocumentID: docA, Similarity: 0.8},
			{DocumentID: docB, Similarity: 0.7},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	for range msg.Sources {
		mock.ExpectExec("INSERT INTO message_sources").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// Three chunks across two documents upsert exactly two reference rows:
	// one per distinct document, never once per chunk.
	expectReferenceUpsert(mock, convID, docA)
	expectReferenceUpsert(mock, convID, docB)
	mock.ExpectExec("UPDATE conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendMessage_ReferenceCountAccumulatesAcrossAppends(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID, docA := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO chat_messages").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO message_sources").
			WillReturnResult(sqlmock.NewResult(0, 1))
		// Each append runs the insert-or-increment upsert again, so the
		// stored reference count grows by one per citing message.
		expectReferenceUpsert(mock, convID, docA)
		mock.ExpectExec("UPDATE conversations").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	for i := 0; i < 2; i++ {
		msg := &ChatMessage{
			ConversationID: convID,
			Role:           "assistant",
			Content:        "answer",
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
			Sources:        []MessageSource{{DocumentID: docA, Similarity: 0.9}},
		}
		if err := repo.AppendMessage(context.Background(), msg); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendMessage_SourcelessMessageLeavesReferencesUntouched(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg := &ChatMessage{ConversationID: convID, Role: "assistant", Content: "answer"}
	if err := repo.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendMessage_RollsBackOnSourceFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID, docA := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chat_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO message_sources").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	msg := &ChatMessage{
		ConversationID: convID,
		Role:           "assistant",
		Content:        "answer",
		Sources:        []MessageSource{{DocumentID: docA, Similarity: 0.9}},
	}
	if err := repo.AppendMessage(context.Background(), msg); err == nil {
		t.Fatal("expected error when a source insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected the transaction to roll back: %v", err)
	}
}
