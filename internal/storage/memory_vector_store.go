package storage

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type chunkKey struct {
	documentID uuid.UUID
	chunkIndex int
}

// MemoryVectorStore is an in-memory VectorStore with cosine similarity.
// It backs tests and single-node deployments without pgvector. Concurrent
// upserts for the same (document_id, chunk_index) resolve last-write-wins
// by timestamp. Chunks stay invisible to Query until their document is
// published, mirroring the indexed-status join of the pgvector store.
type MemoryVectorStore struct {
	mu        sync.RWMutex
	chunks    map[chunkKey]ChunkVector
	published map[uuid.UUID]bool
}

// NewMemoryVectorStore creates an empty in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		chunks:    make(map[chunkKey]ChunkVector),
		published: make(map[uuid.UUID]bool),
	}
}

// Health always succeeds for the in-memory store.
func (s *MemoryVectorStore) Health(ctx context.Context) error {
	return nil
}

// Upsert inserts or replaces a chunk vector.
func (s *MemoryVectorStore) Upsert(ctx context.Context, chunk ChunkVector) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := chunkKey{chunk.DocumentID, chunk.ChunkIndex}
	if existing, ok := s.chunks[key]; ok && existing.CreatedAt.After(chunk.CreatedAt) {
		// A newer write already landed; last-write-wins.
		return nil
	}
	s.chunks[key] = chunk
	return nil
}

// UpsertBatch inserts or replaces multiple chunk vectors.
func (s *MemoryVectorStore) UpsertBatch(ctx context.Context, chunks []ChunkVector) error {
	for _, c := range chunks {
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Query returns up to k chunks with cosine similarity >= minSimilarity,
// ordered by descending similarity. Ties break on (document_id, chunk_index)
// so results are deterministic.
func (s *MemoryVectorStore) Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]ChunkMatch, error) {
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	matches := make([]ChunkMatch, 0, len(s.chunks))
	for _, c := range s.chunks {
		if !s.published[c.DocumentID] {
			continue
		}
		sim := CosineSimilarity(embedding, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, ChunkMatch{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Similarity: sim,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].DocumentID != matches[j].DocumentID {
			return matches[i].DocumentID.String() < matches[j].DocumentID.String()
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// PublishDocument makes a document's chunks visible to Query. Implements
// DocumentPublisher.
func (s *MemoryVectorStore) PublishDocument(documentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[documentID] = true
}

// DeleteByDocument removes all chunks for a document and revokes its
// visibility.
func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.chunks {
		if key.documentID == documentID {
			delete(s.chunks, key)
		}
	}
	delete(s.published, documentID)
	return nil
}

// Count returns the number of stored chunks for a document.
func (s *MemoryVectorStore) Count(documentID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.chunks {
		if key.documentID == documentID {
			n++
		}
	}
	return n
}

// CosineSimilarity computes cosine similarity normalized to [0,1].
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	// Matches the pgvector convention: similarity = 1 - cosine distance,
	// clamped into [0,1].
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return ClampSimilarity(cos)
}
