package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryVectorStore_QueryOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	docID := uuid.New()

	vectors := []ChunkVector{
		{DocumentID: docID, ChunkIndex: 0, Content: "far", Embedding: []float32{0, 1}},
		{DocumentID: docID, ChunkIndex: 1, Content: "exact", Embedding: []float32{1, 0}},
		{DocumentID: docID, ChunkIndex: 2, Content: "close", Embedding: []float32{1, 0.2}},
	}
	if err := store.UpsertBatch(ctx, vectors); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	store.PublishDocument(docID)

	matches, err := store.Query(ctx, []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].Content != "exact" || matches[1].Content != "close" || matches[2].Content != "far" {
		t.Errorf("unexpected order: %s, %s, %s", matches[0].Content, matches[1].Content, matches[2].Content)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Error("expected descending similarity")
		}
	}
}

func TestMemoryVectorStore_QueryAppliesThresholdAndK(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	docID := uuid.New()

	for i := 0; i < 5; i++ {
		err := store.Upsert(ctx, ChunkVector{
			DocumentID: docID,
			ChunkIndex: i,
			Embedding:  []float32{1, float32(i) * 0.5},
		})
		if err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	store.PublishDocument(docID)

	matches, err := store.Query(ctx, []float32{1, 0}, 2, 0.9)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) > 2 {
		t.Errorf("expected at most 2 matches, got %d", len(matches))
	}
	for _, m := range matches {
		if m.Similarity < 0.9 {
			t.Errorf("match below threshold: %f", m.Similarity)
		}
	}
}

func TestMemoryVectorStore_QueryEmptyResultIsValid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	matches, err := store.Query(ctx, []float32{1, 0}, 10, 0.99)
	if err != nil {
		t.Fatalf("expected no error for empty result, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestMemoryVectorStore_UpsertLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	docID := uuid.New()

	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	if err := store.Upsert(ctx, ChunkVector{DocumentID: docID, ChunkIndex: 0, Content: "new", Embedding: []float32{1, 0}, CreatedAt: newer}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	// A stale write for the same key must not overwrite the newer one.
	if err := store.Upsert(ctx, ChunkVector{DocumentID: docID, ChunkIndex: 0, Content: "old", Embedding: []float32{1, 0}, CreatedAt: older}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	store.PublishDocument(docID)

	matches, err := store.Query(ctx, []float32{1, 0}, 1, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Content != "new" {
		t.Errorf("expected newest write to win, got %q", matches[0].Content)
	}
}

func TestMemoryVectorStore_UnpublishedChunksInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	visible, hidden := uuid.New(), uuid.New()

	store.Upsert(ctx, ChunkVector{DocumentID: visible, ChunkIndex: 0, Content: "visible", Embedding: []float32{1, 0}})
	store.Upsert(ctx, ChunkVector{DocumentID: hidden, ChunkIndex: 0, Content: "hidden", Embedding: []float32{1, 0}})
	store.PublishDocument(visible)

	matches, err := store.Query(ctx, []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected only the published document's chunk, got %d matches", len(matches))
	}
	if matches[0].DocumentID != visible {
		t.Errorf("expected chunk from published document, got %s", matches[0].DocumentID)
	}

	// Deleting a document revokes its visibility along with its chunks.
	if err := store.DeleteByDocument(ctx, visible); err != nil {
		t.Fatalf("DeleteByDocument failed: %v", err)
	}
	matches, err = store.Query(ctx, []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches after delete, got %d", len(matches))
	}
}

func TestMemoryVectorStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	keep, remove := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		store.Upsert(ctx, ChunkVector{DocumentID: keep, ChunkIndex: i, Embedding: []float32{1, 0}})
		store.Upsert(ctx, ChunkVector{DocumentID: remove, ChunkIndex: i, Embedding: []float32{1, 0}})
	}

	if err := store.DeleteByDocument(ctx, remove); err != nil {
		t.Fatalf("DeleteByDocument failed: %v", err)
	}

	if got := store.Count(remove); got != 0 {
		t.Errorf("expected 0 chunks for deleted document, got %d", got)
	}
	if got := store.Count(keep); got != 3 {
		t.Errorf("expected 3 chunks for kept document, got %d", got)
	}
}

func TestMemoryVectorStore_DeterministicTieBreak(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	docID := uuid.New()

	// Identical embeddings produce identical similarities.
	for i := 0; i < 4; i++ {
		store.Upsert(ctx, ChunkVector{DocumentID: docID, ChunkIndex: i, Embedding: []float32{1, 0}})
	}
	store.PublishDocument(docID)

	first, err := store.Query(ctx, []float32{1, 0}, 4, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := store.Query(ctx, []float32{1, 0}, 4, 0)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i := range first {
			if again[i].ChunkIndex != first[i].ChunkIndex {
				t.Fatal("expected deterministic ordering across identical queries")
			}
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i].ChunkIndex < first[i-1].ChunkIndex {
			t.Error("expected ties to break on ascending chunk index")
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
