// Package tracing wires Langfuse tracing into every eino chat-model call the
// completion layer makes. It is opt-in: nothing is registered unless both
// Langfuse keys are present in the environment.
package tracing

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// DefaultHost is the Langfuse API used when LANGFUSE_HOST is unset.
const DefaultHost = "http://localhost:3000"

// ConfigFromEnv builds the Langfuse handler configuration from
// LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY. It returns nil
// when either key is missing.
func ConfigFromEnv() *langfuse.Config {
	publicKey := strings.TrimSpace(os.Getenv("LANGFUSE_PUBLIC_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("LANGFUSE_SECRET_KEY"))
	if publicKey == "" || secretKey == "" {
		return nil
	}
	host := strings.TrimSpace(os.Getenv("LANGFUSE_HOST"))
	if host == "" {
		host = DefaultHost
	}
	return &langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	}
}

// Setup registers the Langfuse handler as a global eino callback when it is
// configured. The returned flush function must run before process exit so
// buffered traces are sent; it is a no-op when tracing is disabled.
func Setup(log *slog.Logger) (flush func(), enabled bool) {
	cfg := ConfigFromEnv()
	if cfg == nil {
		log.Info("tracing: langfuse disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}, false
	}

	handler, flusher := langfuse.NewLangfuseHandler(cfg)
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: langfuse enabled", slog.String("host", cfg.Host))
	return flusher, true
}
