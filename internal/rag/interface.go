// Package rag defines the retrieval side of the question answering pipeline:
// the chunk and match types, the Embedder and VectorStore contracts, and a
// Retriever that combines them behind an embedding cache. Concrete stores
// (Qdrant, in-memory) satisfy VectorStore so callers never depend on a
// specific backend.
package rag

import (
	"context"
	"errors"
	"fmt"
)

// ErrStoreUnavailable is wrapped by store errors caused by the backend being
// unreachable, as opposed to a malformed request.
var ErrStoreUnavailable = errors.New("rag: vector store unavailable")

// Chunk is one indexed slice of a corpus file.
type Chunk struct {
	// Text is the chunk content returned verbatim on high-confidence hits.
	Text string
	// Page is the 1-based position of the source file in the corpus listing.
	Page int
	// ChunkIndex is the 0-based position of the chunk within its page.
	ChunkIndex int
	// Filename is the base name of the source file.
	Filename string
	// SourceID is "<page>-<chunk_index>" and is the record key in the store.
	SourceID string
}

// SourceID builds the store key for a chunk.
func SourceID(page, chunkIndex int) string {
	return fmt.Sprintf("%d-%d", page, chunkIndex)
}

// Match is a chunk returned from a similarity search.
type Match struct {
	// SourceID is the record key of the matched chunk.
	SourceID string
	// Score is the cosine similarity; higher is more similar.
	Score float32
	// Chunk carries the stored payload.
	Chunk Chunk
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists chunk embeddings and answers nearest-neighbour
// queries. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// EnsureCollection creates the backing collection if it is missing.
	// It is idempotent and called once at startup.
	EnsureCollection(ctx context.Context) error

	// Upsert writes chunks with their vectors. vectors[i] belongs to
	// chunks[i]. Writing an existing SourceID overwrites the record.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Search returns at most topK matches ordered by descending score.
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Close releases any resources held by the store.
	Close() error
}
