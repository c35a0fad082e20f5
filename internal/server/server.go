// Package server implements the HTTP server that exposes the health-insurance
// law assistant via a JSON/SSE API and optionally serves the web frontend.
// The server is started by the `lawbot serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/session"
)

// Chat outcome label values.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover the slowest completion call.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 3 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.AllowOrigin == "" {
		cfg.AllowOrigin = "*"
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
		baseCtx: logging.WithLogger(context.Background(), cfg.Logger),
	}

	rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.chatRateLimitedTotal.Inc)

	// protect applies bearer auth; limit additionally applies the per-IP
	// rate limit. Both record HTTP metrics under a stable handler name.
	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, h))
	}
	limit := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", limit("chat", s.handleChat))
	mux.Handle("POST /api/chat/stream", limit("chat_stream", s.handleChatStream))
	mux.Handle("GET /api/articles/{number}", protect("article", s.handleArticle))
	mux.Handle("POST /api/index", protect("index_start", s.handleIndexStart))
	mux.Handle("GET /api/index", protect("index_status", s.handleIndexStatus))
	mux.Handle("GET /api/sessions/{id}/turns", protect("session_turns", s.handleSessionTurns))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	s.handler = requestLogger(s.log, corsMiddleware(cfg.AllowOrigin, mux))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: LAWBOT_API_KEY not set, API authentication is disabled")
	}
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = logging.WithLogger(ctx, s.log)

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("lawbot server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// decodeChat parses and validates a chat request body. On failure it writes
// the 400 response itself and returns ok=false.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (question, sessionID string, ok bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == nil {
		writeError(w, http.StatusBadRequest, `Missing "question" field in request`, nil)
		return "", "", false
	}
	question = strings.TrimSpace(*req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "Question cannot be empty", nil)
		return "", "", false
	}
	return question, req.SessionID, true
}

// answer runs the pipeline under the chat timeout and records chat metrics.
func (s *Server) answer(ctx context.Context, question, sessionID string) (replyText, source string, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveRequests.Inc()
	defer s.metrics.chatActiveRequests.Dec()

	start := time.Now()
	reply, err := s.deps.Answerer.Answer(ctx, sessionID, question)

	outcome := outcomeOK
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = outcomeTimeout
	case err != nil:
		outcome = outcomeError
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", "", err
	}
	return reply.Text, string(reply.Source), nil
}

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	question, sessionID, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	log.Info("processing question", slog.Int("chars", len([]rune(question))))

	text, source, err := s.answer(r.Context(), question, sessionID)
	if err != nil {
		log.Error("chat: answer failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Error processing request", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:    "success",
		Question:  question,
		Answer:    text,
		Source:    source,
		SessionID: session.ID(sessionID),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleChatStream handles POST /api/chat/stream. The answer is delivered as
// SSE data frames followed by a "source" event and a "done" event. Pipeline
// errors arrive in-band as an "error" event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	question, sessionID, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	text, source, err := s.answer(r.Context(), question, sessionID)
	if err != nil {
		log.Error("chat stream: answer failed", slog.Any("error", err))
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", strings.ReplaceAll(err.Error(), "\n", " "))
		flusher.Flush()
		return
	}

	sw := &sseWriter{w: w, flusher: flusher}
	if _, err := sw.Write([]byte(text)); err != nil {
		log.Warn("chat stream: client went away", slog.Any("error", err))
		return
	}
	fmt.Fprintf(w, "event: source\ndata: %s\n\n", source)
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line answers never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", slog.Any("error", err))
	}
}

// writeError writes the standard error envelope. cause, when non-nil, is
// reported in the "error" field.
func writeError(w http.ResponseWriter, status int, message string, cause error) {
	resp := errorResponse{Status: "error", Message: message}
	if cause != nil {
		resp.Error = cause.Error()
	}
	writeJSON(w, status, resp)
}
