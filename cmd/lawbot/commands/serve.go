package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/lawbot-go/internal/config"
	"github.com/54b3r/lawbot-go/internal/indexer"
	"github.com/54b3r/lawbot-go/internal/knowledge"
	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/server"
	"github.com/54b3r/lawbot-go/internal/version"
)

// NewServeCmd constructs the `lawbot serve` command, which starts the HTTP
// API in front of the answer pipeline.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watch bool
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lawbot HTTP server",
		Long: `Start the lawbot HTTP server.

The server exposes the chat API (JSON and SSE), raw article lookup,
background reindexing, session transcripts, health/readiness probes and
Prometheus metrics. With --static it also serves a frontend directory at /.

Set FORCE_INDEX=true to reindex the corpus in the background at startup.

Examples:
  lawbot serve
  lawbot serve --port 8080 --watch
  VECTOR_STORE=memory lawbot serve --static ./web`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("version", version.String()))

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			a, err := buildApp(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if watch {
				go func() {
					if err := knowledge.Watch(ctx, a.corpusDir, a.knowledge, log); err != nil {
						log.Error("knowledge: watcher stopped", slog.Any("error", err))
					}
				}()
			}

			supervisor := indexer.NewSupervisor(a.indexer, a.corpusDir, indexer.NewMetrics(reg))
			if config.EnvBool("FORCE_INDEX", false) {
				startIndex(ctx, log, supervisor)
			}

			deps := server.Deps{
				Answerer:  a.orchestrator,
				Articles:  a.resolver,
				Knowledge: a.knowledge,
				Indexer:   supervisor,
			}
			if a.history != nil {
				deps.Transcript = a.history
			}

			if host == "" {
				host = config.EnvString("LAWBOT_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = config.EnvInt("LAWBOT_PORT", 5000)
			}
			if staticDir == "" {
				staticDir = config.EnvString("LAWBOT_STATIC_DIR", "")
			}

			srv, err := server.New(deps, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         buildPingers(a),
				APIKey:          config.EnvString("LAWBOT_API_KEY", ""),
				StaticDir:       staticDir,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: LAWBOT_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: LAWBOT_PORT or 5000)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload law.txt, qa.txt and concepts.txt when they change")
	cmd.Flags().StringVar(&staticDir, "static", "", "Directory of frontend files to serve at /")

	return cmd
}

// startIndex launches a background reindex. The supervisor logs the outcome.
func startIndex(ctx context.Context, log *slog.Logger, s *indexer.Supervisor) {
	if _, err := s.Start(ctx); err != nil {
		log.Warn("index: startup reindex not started", slog.Any("error", err))
		return
	}
	log.Info("index: startup reindex started (FORCE_INDEX)")
}

// buildPingers returns the readiness probes for the dependencies this
// process actually uses.
func buildPingers(a *app) []server.Pinger {
	var pingers []server.Pinger
	if a.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(a.qdrant.Client()))
	}
	if a.ollamaHost != "" {
		pingers = append(pingers, server.NewOllamaPinger(a.ollamaHost, nil))
	}
	if a.history != nil {
		pingers = append(pingers, server.NewFuncPinger("history", a.history.Ping))
	}
	return pingers
}
