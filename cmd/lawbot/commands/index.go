package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/config"
	"github.com/54b3r/lawbot-go/internal/embedder"
	"github.com/54b3r/lawbot-go/internal/indexer"
	"github.com/54b3r/lawbot-go/internal/logging"
)

// NewIndexCmd constructs the `lawbot index` command, which chunks the corpus
// and writes it to the vector store in the foreground.
func NewIndexCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the law corpus into the vector store",
		Long: `Chunk every *.txt file in the corpus directory, embed the chunks and
upsert them into the vector store. Chunk ids are deterministic, so running
the command twice leaves the store unchanged.

Environment variables:
  CORPUS_DIR           Corpus directory (default: data)
  VECTOR_STORE         qdrant or memory (default: qdrant)
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: luat-bhyt)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_*          Embedding backend overrides (see README)

Examples:
  lawbot index
  lawbot index --dir ./data`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if dir == "" {
				dir = config.CorpusDir()
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("index: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("index: failed to initialise embedder: %w", err)
			}

			a := &app{corpusDir: dir}
			defer a.Close()
			if err := a.openVectorStore(ctx, log); err != nil {
				return fmt.Errorf("index: %w", err)
			}

			ix, err := indexer.New(emb, a.vectors)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			n, err := ix.Reindex(ctx, dir)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			log.Info("index: complete", slog.String("dir", dir), slog.Int("chunks", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %s\n", n, dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Corpus directory (default: CORPUS_DIR or data)")

	return cmd
}
