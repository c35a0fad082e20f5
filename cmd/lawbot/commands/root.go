// Package commands defines all Cobra CLI commands for the lawbot binary.
package commands

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/audit"
	"github.com/54b3r/lawbot-go/internal/config"
	"github.com/54b3r/lawbot-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lawbot",
		Short: "lawbot answers questions about the Vietnamese Health Insurance Law",
		Long: `lawbot answers questions about the Vietnamese Health Insurance Law (Luật BHYT).

Answers come from, in order: the concept dictionary ("k: term"), the curated
question table ("q: question"), raw article extraction ("Điều 5"), and
finally retrieval over the indexed law text followed by a completion model.

Settings are read from the environment, a .env file in the working directory
and an optional YAML config file (~/.lawbot/config.yaml). Environment
variables always win.
See 'lawbot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// godotenv.Load never overrides variables already set.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("config: could not read .env", "error", err)
			}

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.lawbot/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewIndexCmd(),
		NewArticleCmd(),
		NewVersionCmd(),
	)

	return root
}
