package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/orchestrator"
)

// NewAskCmd constructs the `lawbot ask` command, which answers a single
// question and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the Health Insurance Law",
		Long: `Ask lawbot a single question and print the answer.

Prefix a query with "k:" to look up a concept definition or "q:" to match a
curated question exactly. Mentioning "Điều N" returns the raw article text.
Anything else goes through retrieval and the completion model.

Examples:
  lawbot ask "k: bảo hiểm y tế"
  lawbot ask "Điều 12 quy định gì?"
  lawbot ask --session alice "Ai phải tham gia bảo hiểm y tế?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			reply, err := a.orchestrator.Answer(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			sourceTag(reply).Fprintf(out, "[%s]\n", reply.Source)
			fmt.Fprintln(out, reply.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Conversation id to continue (default: shared session)")

	return cmd
}

// sourceTag picks the color used to label a reply by the stage that
// produced it.
func sourceTag(r orchestrator.Reply) *color.Color {
	switch r.Source {
	case orchestrator.SourceConcept, orchestrator.SourceQA, orchestrator.SourceArticle:
		return color.New(color.FgGreen, color.Bold)
	case orchestrator.SourceRetrieval:
		return color.New(color.FgCyan, color.Bold)
	case orchestrator.SourceCache:
		return color.New(color.FgBlue, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}
