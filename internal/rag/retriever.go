package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/lru"
)

// Retrieval defaults.
const (
	// DefaultTopK is the number of candidates requested from the store.
	DefaultTopK = 3
	// DefaultThreshold is the minimum score a match needs to be kept.
	DefaultThreshold float32 = 0.35
	// DefaultEmbeddingCacheSize bounds the query-embedding cache.
	DefaultEmbeddingCacheSize = 128
)

// CacheObserver is notified of embedding cache lookups. It lets the caller
// count hits and misses without this package owning any metrics.
type CacheObserver func(hit bool)

// Retriever embeds queries and searches the store. Query embeddings are
// cached by exact query string. It is safe for concurrent use.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// cache maps a raw query to its embedding.
	cache *lru.Cache[string, []float32]

	// observe, if set, is called on every cache lookup.
	observe CacheObserver
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithEmbeddingCache replaces the default 128-entry embedding cache.
func WithEmbeddingCache(c *lru.Cache[string, []float32]) RetrieverOption {
	return func(r *Retriever) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithCacheObserver registers fn to be told about cache hits and misses.
func WithCacheObserver(fn CacheObserver) RetrieverOption {
	return func(r *Retriever) { r.observe = fn }
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	r := &Retriever{
		embedder: embedder,
		store:    store,
		cache:    lru.New[string, []float32](DefaultEmbeddingCacheSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns up to topK matches for query whose score is at least
// threshold, in the store's descending-score order. The only state it
// changes is the embedding cache.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float32) ([]Match, error) {
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	kept := matches[:0:0]
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}

	logging.FromContext(ctx).Debug("rag: retrieved",
		slog.Int("candidates", len(matches)),
		slog.Int("kept", len(kept)),
	)
	return kept, nil
}

// embed returns the cached embedding for query, computing and caching it on
// a miss.
func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := r.cache.Get(query); ok {
		r.notify(true)
		return vec, nil
	}
	r.notify(false)

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	r.cache.Put(query, vecs[0])
	return vecs[0], nil
}

func (r *Retriever) notify(hit bool) {
	if r.observe != nil {
		r.observe(hit)
	}
}
