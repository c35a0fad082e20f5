package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It suits tests and small local corpora; nothing is persisted.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	chunk  Chunk
	vector []float32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// EnsureCollection is a no-op.
func (m *MemoryStore) EnsureCollection(context.Context) error { return nil }

// Upsert stores or overwrites records keyed by SourceID.
func (m *MemoryStore) Upsert(_ context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("memory store: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		m.records[c.SourceID] = memoryRecord{chunk: c, vector: append([]float32(nil), vectors[i]...)}
	}
	return nil
}

// Search scores every record against vector and returns the best topK.
// Ties are broken by SourceID so results are deterministic.
func (m *MemoryStore) Search(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	matches := make([]Match, 0, len(m.records))
	for id, r := range m.records {
		matches = append(matches, Match{SourceID: id, Score: cosine(vector, r.vector), Chunk: r.chunk})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SourceID < matches[j].SourceID
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
