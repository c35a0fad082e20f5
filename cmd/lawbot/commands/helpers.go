package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/lawbot-go/internal/completion"
	"github.com/54b3r/lawbot-go/internal/config"
	"github.com/54b3r/lawbot-go/internal/embedder"
	"github.com/54b3r/lawbot-go/internal/indexer"
	"github.com/54b3r/lawbot-go/internal/knowledge"
	"github.com/54b3r/lawbot-go/internal/lru"
	"github.com/54b3r/lawbot-go/internal/orchestrator"
	"github.com/54b3r/lawbot-go/internal/provider"
	"github.com/54b3r/lawbot-go/internal/rag"
	"github.com/54b3r/lawbot-go/internal/resolver"
	"github.com/54b3r/lawbot-go/internal/retryhttp"
	"github.com/54b3r/lawbot-go/internal/session"
	"github.com/54b3r/lawbot-go/internal/store"
	"github.com/54b3r/lawbot-go/internal/tracing"
)

// Completion modes selected by COMPLETION_MODE.
const (
	modeGenerate = "generate"
	modeChat     = "chat"
)

// Vector store backends selected by VECTOR_STORE.
const (
	vectorStoreQdrant = "qdrant"
	vectorStoreMemory = "memory"
)

// historyDisabled is the LAWBOT_HISTORY_DB value that turns persistence off.
const historyDisabled = "disabled"

// ollamaTimeout bounds a single generate call, retries included.
const ollamaTimeout = 120 * time.Second

// app is the fully wired answer pipeline shared by serve, ask and chat.
type app struct {
	corpusDir    string
	knowledge    *knowledge.Holder
	resolver     *resolver.Resolver
	vectors      rag.VectorStore
	qdrant       *rag.QdrantStore
	indexer      *indexer.Indexer
	orchestrator *orchestrator.Orchestrator
	history      *store.SQLiteStore
	ollamaHost   string

	closers []func()
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires knowledge, retrieval, completion, session state and the
// orchestrator from the environment. reg receives the orchestrator metrics;
// pass nil for one-shot commands.
func buildApp(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{corpusDir: config.CorpusDir()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	k, err := knowledge.Load(a.corpusDir, log)
	if err != nil {
		return nil, err
	}
	a.knowledge = knowledge.NewHolder(k)
	a.resolver = resolver.New(a.knowledge)
	log.Info("knowledge loaded",
		slog.String("dir", a.corpusDir),
		slog.Int("concepts", len(k.Concepts)),
		slog.Int("qa", len(k.QA)),
	)

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

	if err := a.openVectorStore(ctx, log); err != nil {
		return nil, err
	}

	a.indexer, err = indexer.New(emb, a.vectors)
	if err != nil {
		return nil, err
	}
	if _, ok := a.vectors.(*rag.MemoryStore); ok {
		// The in-process store starts empty on every run.
		n, err := a.indexer.Reindex(ctx, a.corpusDir)
		if err != nil {
			return nil, fmt.Errorf("failed to index corpus into memory store: %w", err)
		}
		log.Info("memory store populated", slog.Int("chunks", n))
	}

	tuning := config.RAGFromEnv()
	metrics := orchestrator.NewMetrics(reg)

	retrieverOpts := []rag.RetrieverOption{rag.WithCacheObserver(metrics.ObserveEmbeddingCache)}
	if tuning.EmbedCacheSize > 0 {
		retrieverOpts = append(retrieverOpts, rag.WithEmbeddingCache(lru.New[string, []float32](tuning.EmbedCacheSize)))
	}
	retriever, err := rag.NewRetriever(emb, a.vectors, retrieverOpts...)
	if err != nil {
		return nil, err
	}

	completer, err := a.buildCompleter(ctx, log)
	if err != nil {
		return nil, err
	}

	var sessionStore session.Store = session.NewMemoryStore()
	a.history = openHistory(log)
	if a.history != nil {
		hs := a.history
		a.closers = append(a.closers, func() { _ = hs.Close() })
		sessionStore = hs
	}

	cfg := orchestrator.Config{
		Resolver:        a.resolver,
		Retriever:       retriever,
		Completer:       completer,
		Sessions:        session.NewTracker(sessionStore),
		TopK:            tuning.TopK,
		Threshold:       tuning.Threshold,
		HighConfidence:  tuning.HighConfidence,
		MaxContextChars: tuning.MaxContextChars,
		Metrics:         metrics,
	}
	if a.history != nil {
		cfg.Transcript = a.history
	}
	if tuning.ResponseCacheSize > 0 {
		cfg.ResponseCache = lru.New[string, string](tuning.ResponseCacheSize)
	}
	a.orchestrator, err = orchestrator.New(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openVectorStore selects the vector store from VECTOR_STORE and makes sure
// its collection exists.
func (a *app) openVectorStore(ctx context.Context, log *slog.Logger) error {
	backend := strings.ToLower(config.EnvString("VECTOR_STORE", vectorStoreQdrant))
	switch backend {
	case vectorStoreMemory:
		a.vectors = rag.NewMemoryStore()
		log.Info("vector store: in-memory")
		return nil
	case vectorStoreQdrant:
	default:
		return fmt.Errorf("unknown VECTOR_STORE %q (want qdrant or memory)", backend)
	}

	qcfg := &rag.QdrantConfig{
		Host:       config.EnvString("QDRANT_HOST", "localhost"),
		Port:       config.EnvInt("QDRANT_PORT", 6334),
		Collection: config.EnvString("QDRANT_COLLECTION", ""),
		VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     config.EnvBool("QDRANT_TLS", false),
	}
	qs, err := rag.NewQdrantStore(qcfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
	}
	a.closers = append(a.closers, func() { _ = qs.Close() })
	if err := qs.EnsureCollection(ctx); err != nil {
		return err
	}
	a.vectors = qs
	a.qdrant = qs
	log.Info("vector store: qdrant",
		slog.String("host", qcfg.Host),
		slog.Int("port", qcfg.Port),
		slog.Uint64("vector_size", qcfg.VectorSize),
	)
	return nil
}

// buildCompleter selects the completion backend from COMPLETION_MODE.
// "generate" talks to Ollama's generate endpoint directly; "chat" goes
// through the provider package and is traced when Langfuse is configured.
func (a *app) buildCompleter(ctx context.Context, log *slog.Logger) (completion.Completer, error) {
	mode := strings.ToLower(config.EnvString("COMPLETION_MODE", modeGenerate))
	switch mode {
	case modeGenerate:
		gen := completion.NewOllamaGenerator(completion.OllamaConfig{
			Host:  config.EnvString("OLLAMA_HOST", completion.DefaultOllamaHost),
			Model: config.EnvString("OLLAMA_MODEL", completion.DefaultOllamaModel),
			HTTPClient: &http.Client{
				Transport: retryhttp.New(http.DefaultTransport),
				Timeout:   ollamaTimeout,
			},
		})
		a.ollamaHost = gen.Host()
		log.Info("completion: ollama generate", slog.String("host", gen.Host()), slog.String("model", gen.Model()))
		return gen, nil

	case modeChat:
		flush, _ := tracing.Setup(log)
		a.closers = append(a.closers, flush)

		providerCfg := provider.ConfigFromEnv()
		chatModel, err := provider.New(ctx, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise model provider: %w", err)
		}
		if providerCfg.Backend == provider.BackendOllama {
			a.ollamaHost = providerCfg.Ollama.Host
		}
		log.Info("completion: chat model",
			slog.String("provider", string(providerCfg.Backend)),
			slog.String("model", providerCfg.ModelName()),
		)
		return completion.NewChatCompleter(completion.ChatConfig{Model: chatModel})

	default:
		return nil, fmt.Errorf("unknown COMPLETION_MODE %q (want generate or chat)", mode)
	}
}

// openHistory opens the SQLite store named by LAWBOT_HISTORY_DB, falling back
// to ~/.lawbot/history.db. It returns nil when persistence is disabled or the
// store cannot be opened; session state then lives in memory only.
func openHistory(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("LAWBOT_HISTORY_DB")
	if dbPath == historyDisabled {
		log.Info("history: disabled via LAWBOT_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}
