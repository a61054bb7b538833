package knowledge

import (
	"context"
	"math"
	"slices"
	"sync"
)

type memoryIndex struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

// NewMemoryIndex returns an ephemeral index, useful for tests and one-shot runs.
func NewMemoryIndex() Index {
	return &memoryIndex{}
}

func (m *memoryIndex) Append(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errIndexClosed
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryIndex) Search(_ context.Context, vector []float32, k int) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errIndexClosed
	}

	scored := make([]scoredChunk, len(m.records))
	for i, r := range m.records {
		scored[i] = scoredChunk{chunk: r.Chunk, score: cosineSimilarity(vector, r.Embedding)}
	}
	return topK(scored, k), nil
}

func (m *memoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, errIndexClosed
	}
	return len(m.records), nil
}

func (m *memoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type scoredChunk struct {
	chunk Chunk
	score float64
}

// topK expects scored in insertion order; the stable sort keeps it for ties.
func topK(scored []scoredChunk, k int) []Chunk {
	slices.SortStableFunc(scored, func(a, b scoredChunk) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	out := make([]Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.chunk
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
