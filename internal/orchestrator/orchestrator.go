// Package orchestrator answers one question by walking the pipeline stages in
// order: static tables, the response cache, vector retrieval, and finally the
// completion model. The first stage that produces text wins.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/lawbot-go/internal/budget"
	"github.com/54b3r/lawbot-go/internal/completion"
	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/lru"
	"github.com/54b3r/lawbot-go/internal/rag"
	"github.com/54b3r/lawbot-go/internal/resolver"
	"github.com/54b3r/lawbot-go/internal/session"
	"github.com/54b3r/lawbot-go/internal/store"
)

// Pipeline defaults.
const (
	DefaultTopK              = rag.DefaultTopK
	DefaultThreshold float32 = rag.DefaultThreshold
	// DefaultHighConfidence is the score at which the best chunk is returned
	// verbatim instead of being handed to the completion model.
	DefaultHighConfidence float32 = 0.82
	// DefaultMaxContextChars bounds the retrieved context, in runes.
	DefaultMaxContextChars = 3500
	// DefaultContextMatches is how many matches are joined into the context.
	DefaultContextMatches = 5
	// DefaultResponseCacheSize is the capacity of the response cache.
	DefaultResponseCacheSize = 256
)

// ErrEmptyQuery is returned by Answer for a blank question.
var ErrEmptyQuery = errors.New("orchestrator: query must not be empty")

// Source names the stage that produced a Reply.
type Source string

const (
	SourceConcept    Source = "concept"
	SourceQA         Source = "qa"
	SourceArticle    Source = "article"
	SourceCache      Source = "cache"
	SourceRetrieval  Source = "retrieval"
	SourceCompletion Source = "completion"
)

// Reply is the answer to one question.
type Reply struct {
	// Text is the answer shown to the user.
	Text string `json:"answer"`
	// Source is the stage that produced Text.
	Source Source `json:"source"`
	// Score is the best retrieval score seen, or zero when retrieval did
	// not run.
	Score float32 `json:"score,omitempty"`
}

// Resolver answers questions from the static tables.
// *resolver.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, query string) resolver.Result
}

// Retriever returns the chunks most similar to a query.
// *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float32) ([]rag.Match, error)
}

// Config holds the collaborators and tuning of an Orchestrator. Resolver,
// Retriever and Completer are required; zero numeric fields take the
// package defaults.
type Config struct {
	Resolver  Resolver
	Retriever Retriever
	Completer completion.Completer

	// Sessions owns continuation state. Nil uses an in-memory tracker.
	Sessions *session.Tracker

	// Transcript, when set, receives every answered turn.
	Transcript store.TranscriptStore

	// ResponseCache maps raw queries to completed answers. Nil creates one
	// with DefaultResponseCacheSize entries.
	ResponseCache *lru.Cache[string, string]

	TopK            int
	Threshold       float32
	HighConfidence  float32
	MaxContextChars int
	ContextMatches  int

	// Metrics receives answer and cache metrics. Nil creates unregistered
	// collectors.
	Metrics *Metrics
}

// Orchestrator runs the answer pipeline. It is safe for concurrent use.
type Orchestrator struct {
	resolver   Resolver
	retriever  Retriever
	completer  completion.Completer
	sessions   *session.Tracker
	transcript store.TranscriptStore
	cache      *lru.Cache[string, string]
	metrics    *Metrics

	topK            int
	threshold       float32
	highConfidence  float32
	maxContextChars int
	contextMatches  int
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("orchestrator: resolver must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("orchestrator: retriever must not be nil")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("orchestrator: completer must not be nil")
	}

	o := &Orchestrator{
		resolver:        cfg.Resolver,
		retriever:       cfg.Retriever,
		completer:       cfg.Completer,
		sessions:        cfg.Sessions,
		transcript:      cfg.Transcript,
		cache:           cfg.ResponseCache,
		metrics:         cfg.Metrics,
		topK:            cfg.TopK,
		threshold:       cfg.Threshold,
		highConfidence:  cfg.HighConfidence,
		maxContextChars: cfg.MaxContextChars,
		contextMatches:  cfg.ContextMatches,
	}
	if o.sessions == nil {
		o.sessions = session.NewTracker(nil)
	}
	if o.cache == nil {
		o.cache = lru.New[string, string](DefaultResponseCacheSize)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.topK <= 0 {
		o.topK = DefaultTopK
	}
	if o.threshold <= 0 {
		o.threshold = DefaultThreshold
	}
	if o.highConfidence <= 0 {
		o.highConfidence = DefaultHighConfidence
	}
	if o.maxContextChars <= 0 {
		o.maxContextChars = DefaultMaxContextChars
	}
	if o.contextMatches <= 0 {
		o.contextMatches = DefaultContextMatches
	}
	return o, nil
}

// Answer produces the reply to query within the given session. An empty
// sessionID uses the shared default session.
//
// Errors from the retriever or the completer are returned wrapped; nothing is
// cached or recorded for a failed question.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, query string) (Reply, error) {
	if strings.TrimSpace(query) == "" {
		return Reply{}, ErrEmptyQuery
	}
	sessionID = session.ID(sessionID)

	start := time.Now()
	reply, err := o.answer(ctx, sessionID, query)
	if err != nil {
		o.metrics.failuresTotal.Inc()
		return Reply{}, err
	}
	o.metrics.answersTotal.WithLabelValues(string(reply.Source)).Inc()
	o.metrics.durationSeconds.WithLabelValues(string(reply.Source)).Observe(time.Since(start).Seconds())

	o.record(ctx, sessionID, query, reply)
	return reply, nil
}

func (o *Orchestrator) answer(ctx context.Context, sessionID, query string) (Reply, error) {
	log := logging.FromContext(ctx)

	if res := o.resolver.Resolve(ctx, query); res.Found {
		return Reply{Text: res.Text, Source: Source(res.Source)}, nil
	}

	if text, ok := o.cache.Get(query); ok {
		o.metrics.observeCache(cacheResponse, true)
		log.Debug("orchestrator: response cache hit")
		return Reply{Text: text, Source: SourceCache}, nil
	}
	o.metrics.observeCache(cacheResponse, false)

	matches, err := o.retriever.Retrieve(ctx, query, o.topK, o.threshold)
	if err != nil {
		return Reply{}, fmt.Errorf("orchestrator: retrieve: %w", err)
	}

	var best float32
	if len(matches) > 0 {
		best = matches[0].Score
		if best >= o.highConfidence {
			log.Debug("orchestrator: returning top chunk verbatim",
				slog.String("source_id", matches[0].SourceID),
				slog.Float64("score", float64(best)),
			)
			return Reply{Text: matches[0].Chunk.Text, Source: SourceRetrieval, Score: best}, nil
		}
	}

	contextText := BuildContext(matches, o.contextMatches, o.maxContextChars)
	log.Debug("orchestrator: calling completer",
		slog.Int("matches", len(matches)),
		slog.Float64("best_score", float64(best)),
	)

	state, err := o.sessions.State(ctx, sessionID)
	if err != nil {
		log.Warn("orchestrator: session state unavailable, starting fresh", slog.Any("error", err))
		state = nil
	}

	resp, err := o.completer.Complete(ctx, completion.Request{
		Prompt: completion.BuildPrompt(contextText, query),
		State:  state,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("orchestrator: complete: %w", err)
	}

	if err := o.sessions.Update(ctx, sessionID, resp.State); err != nil {
		log.Warn("orchestrator: failed to save session state", slog.String("session", sessionID), slog.Any("error", err))
	}

	if _, evicted := o.cache.Put(query, resp.Text); evicted {
		o.metrics.cacheEvictions.Inc()
	}
	return Reply{Text: resp.Text, Source: SourceCompletion, Score: best}, nil
}

// record appends the turn to the transcript store, if any. Failures are
// logged and otherwise ignored.
func (o *Orchestrator) record(ctx context.Context, sessionID, query string, reply Reply) {
	if o.transcript == nil {
		return
	}
	err := o.transcript.AppendTurn(ctx, store.Turn{
		SessionID: sessionID,
		Question:  query,
		Answer:    reply.Text,
		Source:    string(reply.Source),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("orchestrator: failed to record turn", slog.Any("error", err))
	}
}

// BuildContext joins the texts of up to limit matches with single spaces and
// keeps the trailing maxRunes runes when the result is longer.
func BuildContext(matches []rag.Match, limit, maxRunes int) string {
	if len(matches) > limit {
		matches = matches[:limit]
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Chunk.Text
	}
	return budget.TailRunes(strings.Join(texts, " "), maxRunes)
}
