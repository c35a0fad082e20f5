package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/config"
	"github.com/54b3r/lawbot-go/internal/knowledge"
	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/resolver"
)

// NewArticleCmd constructs the `lawbot article` command, which prints the raw
// text of one article of the law. It needs only the corpus directory.
func NewArticleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "article N",
		Short: "Print the raw text of article N",
		Long: `Print the raw text of one article, extracted from law.txt.

The command exits non-zero when the article cannot be found.

Examples:
  lawbot article 12
  CORPUS_DIR=./data lawbot article 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("article: %q is not an article number", args[0])
			}

			k, err := knowledge.Load(config.CorpusDir(), logging.New())
			if err != nil {
				return fmt.Errorf("article: %w", err)
			}

			res := resolver.New(knowledge.NewHolder(k)).Article(cmd.Context(), n)
			if !res.Found {
				return fmt.Errorf("article %d not found", n)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
}
