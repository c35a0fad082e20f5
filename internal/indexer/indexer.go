// Package indexer builds the vector index from the corpus directory. Every
// *.txt file is chunked, embedded, and upserted into the vector store under
// a deterministic "<page>-<chunk>" key, so re-indexing overwrites records
// instead of duplicating them. Reindexing is invoked by `lawbot index`, by
// POST /api/index, and at `lawbot serve` startup when FORCE_INDEX is set.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/lawbot-go/internal/chunker"
	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/rag"
)

// DefaultBatchSize is the number of chunks embedded and upserted together.
const DefaultBatchSize = 50

// Indexer orchestrates the read, chunk, embed and upsert flow over a corpus
// directory.
type Indexer struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// splitter cuts file content into chunks.
	splitter *chunker.Splitter

	// batchSize bounds each embed and upsert call.
	batchSize int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithSplitter replaces the default 1500/200 splitter.
func WithSplitter(s *chunker.Splitter) Option {
	return func(ix *Indexer) {
		if s != nil {
			ix.splitter = s
		}
	}
}

// WithBatchSize sets how many chunks go into one embed and upsert call.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// New constructs an Indexer from the provided dependencies.
func New(embedder rag.Embedder, store rag.VectorStore, opts ...Option) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("indexer: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("indexer: store must not be nil")
	}
	ix := &Indexer{
		embedder:  embedder,
		store:     store,
		splitter:  chunker.New(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Reindex chunks every *.txt file in dir and writes the chunks to the vector
// store. Files are processed in name order; a file's page number is its
// 1-based position in that order. It returns the number of chunks written.
// Chunks written before an error stay in the store.
func (ix *Indexer) Reindex(ctx context.Context, dir string) (int, error) {
	log := logging.FromContext(ctx)

	files, err := listCorpus(dir)
	if err != nil {
		return 0, err
	}
	log.Info("indexer: starting", slog.String("dir", dir), slog.Int("files", len(files)))

	var (
		batch   []rag.Chunk
		written int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.write(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		log.Debug("indexer: batch written", slog.Int("chunks", len(batch)), slog.Int("total", written))
		batch = batch[:0]
		return nil
	}

	for i, name := range files {
		page := i + 1
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return written, fmt.Errorf("indexer: read %s: %w", name, err)
		}
		pieces := ix.splitter.Split(string(raw))
		log.Debug("indexer: chunked file",
			slog.String("file", name),
			slog.Int("page", page),
			slog.Int("chunks", len(pieces)),
		)

		for idx, text := range pieces {
			batch = append(batch, rag.Chunk{
				Text:       text,
				Page:       page,
				ChunkIndex: idx,
				Filename:   name,
				SourceID:   rag.SourceID(page, idx),
			})
			if len(batch) >= ix.batchSize {
				if err := flush(); err != nil {
					return written, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	log.Info("indexer: complete", slog.Int("chunks", written))
	return written, nil
}

// write embeds and upserts one batch.
func (ix *Indexer) write(ctx context.Context, batch []rag.Chunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("indexer: embedding failed at %s: %w", batch[0].SourceID, err)
	}
	if err := ix.store.Upsert(ctx, batch, vectors); err != nil {
		return fmt.Errorf("indexer: upsert failed at %s: %w", batch[0].SourceID, err)
	}
	return nil
}

// listCorpus returns the names of the regular *.txt files in dir, sorted.
func listCorpus(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("indexer: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
