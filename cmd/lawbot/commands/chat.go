package commands

import (
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/tui"
)

// NewChatCmd constructs the `lawbot chat` command, an interactive
// conversation in the terminal. Typing "end" or pressing Ctrl+C quits.
func NewChatCmd() *cobra.Command {
	var sessionID string
	var logFile string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat about the Health Insurance Law",
		Long: `Start an interactive chat in the terminal.

Every question in the session shares the model's conversation state, so
follow-up questions can refer to earlier answers. Type "end" or press
Ctrl+C to quit.

Logs would corrupt the screen, so they are discarded unless --log-file is set.

Examples:
  lawbot chat
  lawbot chat --session alice --log-file lawbot.log`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.Nop()
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("chat: open log file: %w", err)
				}
				defer f.Close()
				log = logging.NewWithOptions(logging.Options{
					Level:  logging.ParseLevel(os.Getenv("LOG_LEVEL")),
					Format: os.Getenv("LOG_FORMAT"),
					Writer: f,
				})
			}
			ctx := logging.WithLogger(cmd.Context(), log)

			fmt.Fprintln(cmd.ErrOrStderr(), "Loading knowledge and vector store...")
			a, err := buildApp(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()

			log.Info("chat: session started", slog.String("session", sessionID))
			if _, err := tea.NewProgram(tui.New(ctx, a.orchestrator, sessionID), tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Conversation id (default: shared session)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of discarding them")

	return cmd
}
