package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/lawbot-go/internal/indexer"
	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/session"
)

// Transcript page sizes for GET /api/sessions/{id}/turns.
const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 200
)

// handleArticle handles GET /api/articles/{number}.
func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Articles == nil {
		writeError(w, http.StatusServiceUnavailable, "Law text not loaded", nil)
		return
	}

	n, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Article number must be a non-negative integer", nil)
		return
	}

	res := s.deps.Articles.Article(r.Context(), n)
	if !res.Found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Article %d not found", n), nil)
		return
	}
	writeJSON(w, http.StatusOK, articleResponse{Status: "success", Article: n, Content: res.Text})
}

// handleIndexStart handles POST /api/index. The run continues after the
// response is written; its result is visible through GET /api/index.
func (s *Server) handleIndexStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "Indexer not configured", nil)
		return
	}

	if _, err := s.deps.Indexer.Start(s.baseCtx); err != nil {
		if errors.Is(err, indexer.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "Indexing already running", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start indexing", err)
		return
	}

	logging.FromContext(r.Context()).Info("index: background run started")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Indexing started in background",
	})
}

// handleIndexStatus handles GET /api/index.
func (s *Server) handleIndexStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "Indexer not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Indexer.Status())
}

// handleSessionTurns handles GET /api/sessions/{id}/turns?limit=N.
func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcript == nil {
		writeError(w, http.StatusNotFound, "Transcript history is disabled", nil)
		return
	}

	limit := defaultTurnsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxTurnsLimit)
	}

	id := session.ID(r.PathValue("id"))
	turns, err := s.deps.Transcript.RecentTurns(r.Context(), id, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("turns: query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Error reading transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, turnsResponse{Status: "success", SessionID: id, Turns: turns})
}
