package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/lawbot-go/internal/indexer"
	"github.com/54b3r/lawbot-go/internal/knowledge"
	"github.com/54b3r/lawbot-go/internal/orchestrator"
	"github.com/54b3r/lawbot-go/internal/resolver"
	"github.com/54b3r/lawbot-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 5000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single question from receipt to answer.
	// Defaults to 3 minutes; local completion models are slow on CPU.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the chat
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// StaticDir, when set, is served at / (the web frontend).
	StaticDir string
	// AllowOrigin is the Access-Control-Allow-Origin value. Defaults to "*".
	AllowOrigin string
	// MetricsRegistry receives the server metrics.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is exposed on GET /metrics.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Answerer answers one question. *orchestrator.Orchestrator satisfies it.
type Answerer interface {
	Answer(ctx context.Context, sessionID, query string) (orchestrator.Reply, error)
}

// ArticleSource looks up a numbered article, curated answers first.
// *resolver.Resolver satisfies it.
type ArticleSource interface {
	Article(ctx context.Context, n int) resolver.Result
}

// KnowledgeSource exposes the currently loaded knowledge tables.
// *knowledge.Holder satisfies it.
type KnowledgeSource interface {
	Current() *knowledge.Knowledge
}

// IndexRunner starts background reindex runs. *indexer.Supervisor satisfies it.
type IndexRunner interface {
	Start(ctx context.Context) (<-chan indexer.Outcome, error)
	Status() indexer.Status
}

// TranscriptReader returns recent turns of a session.
// *store.SQLiteStore satisfies it.
type TranscriptReader interface {
	RecentTurns(ctx context.Context, sessionID string, n int) ([]store.Turn, error)
}

// Deps are the collaborators the handlers call. Answerer is required; a nil
// optional dependency disables its endpoints.
type Deps struct {
	Answerer   Answerer
	Articles   ArticleSource
	Knowledge  KnowledgeSource
	Indexer    IndexRunner
	Transcript TranscriptReader
}

// Server is the HTTP server that exposes the question answering pipeline.
type Server struct {
	// deps holds the handler collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped mux.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// baseCtx parents background work started by handlers, such as reindex
	// runs, so it outlives the request that triggered it.
	baseCtx context.Context
}

// chatRequest is the JSON body for POST /api/chat and /api/chat/stream.
type chatRequest struct {
	// Question is the user's question. Pointer so a missing field can be told
	// apart from an empty one.
	Question *string `json:"question"`
	// SessionID selects the conversation. Empty uses the shared default.
	SessionID string `json:"session_id,omitempty"`
}

// chatResponse is the JSON response for a successful POST /api/chat.
type chatResponse struct {
	Status    string `json:"status"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// articleResponse is the JSON response for GET /api/articles/{number}.
type articleResponse struct {
	Status  string `json:"status"`
	Article int    `json:"article"`
	Content string `json:"content"`
}

// turnsResponse is the JSON response for GET /api/sessions/{id}/turns.
type turnsResponse struct {
	Status    string       `json:"status"`
	SessionID string       `json:"session_id"`
	Turns     []store.Turn `json:"turns"`
}

// healthResponse is the JSON response for GET /api/health.
type healthResponse struct {
	Status    string          `json:"status"`
	Knowledge *knowledgeStats `json:"knowledge,omitempty"`
	Index     *indexer.Status `json:"index,omitempty"`
}

// knowledgeStats summarises the loaded tables.
type knowledgeStats struct {
	Concepts int `json:"concepts"`
	QA       int `json:"qa"`
	LawChars int `json:"law_chars"`
}
