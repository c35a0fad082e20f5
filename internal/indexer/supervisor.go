package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/lawbot-go/internal/logging"
)

// ErrAlreadyRunning is returned by Supervisor.Start while a run is in flight.
var ErrAlreadyRunning = errors.New("indexer: reindex already running")

// State is the lifecycle phase reported by Supervisor.Status.
type State string

const (
	// StateIdle means no run has been started yet.
	StateIdle State = "idle"
	// StateRunning means a run is in flight.
	StateRunning State = "running"
	// StateSucceeded means the last run finished without error.
	StateSucceeded State = "succeeded"
	// StateFailed means the last run returned an error.
	StateFailed State = "failed"
)

// Status is a snapshot of the supervisor's most recent run.
type Status struct {
	State      State      `json:"state"`
	Dir        string     `json:"dir"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Chunks     int        `json:"chunks"`
	Error      string     `json:"error,omitempty"`
}

// Outcome is the result of one supervised run.
type Outcome struct {
	Chunks int
	Err    error
}

// Reindexer is the work a Supervisor runs. *Indexer satisfies it.
type Reindexer interface {
	Reindex(ctx context.Context, dir string) (int, error)
}

// Supervisor runs at most one reindex at a time in the background and
// records its outcome. It is safe for concurrent use.
type Supervisor struct {
	runner  Reindexer
	dir     string
	metrics *Metrics

	mu     sync.Mutex
	status Status
}

// NewSupervisor returns a Supervisor that reindexes dir with r. A nil m
// creates unregistered metrics.
func NewSupervisor(r Reindexer, dir string, m *Metrics) *Supervisor {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Supervisor{
		runner:  r,
		dir:     dir,
		metrics: m,
		status:  Status{State: StateIdle, Dir: dir},
	}
}

// Start launches a reindex in a new goroutine and returns a channel that
// receives its single Outcome. ctx bounds the run, so pass a long-lived
// context rather than a request context. Start returns ErrAlreadyRunning
// without starting anything when a run is in flight.
func (s *Supervisor) Start(ctx context.Context) (<-chan Outcome, error) {
	s.mu.Lock()
	if s.status.State == StateRunning {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	now := time.Now()
	s.status = Status{State: StateRunning, Dir: s.dir, StartedAt: &now}
	s.mu.Unlock()

	s.metrics.running.Set(1)
	done := make(chan Outcome, 1)
	go s.run(ctx, now, done)
	return done, nil
}

func (s *Supervisor) run(ctx context.Context, started time.Time, done chan<- Outcome) {
	log := logging.FromContext(ctx)
	n, err := s.runner.Reindex(ctx, s.dir)
	finished := time.Now()

	s.metrics.running.Set(0)
	s.metrics.durationSeconds.Observe(finished.Sub(started).Seconds())
	s.metrics.chunksTotal.Add(float64(n))

	s.mu.Lock()
	s.status.FinishedAt = &finished
	s.status.Chunks = n
	if err != nil {
		s.status.State = StateFailed
		s.status.Error = err.Error()
	} else {
		s.status.State = StateSucceeded
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.runsTotal.WithLabelValues(string(StateFailed)).Inc()
		log.Error("indexer: reindex failed", slog.Int("chunks", n), slog.Any("error", err))
	} else {
		s.metrics.runsTotal.WithLabelValues(string(StateSucceeded)).Inc()
		log.Info("indexer: reindex succeeded", slog.Int("chunks", n), slog.Duration("elapsed", finished.Sub(started)))
	}
	done <- Outcome{Chunks: n, Err: err}
}

// Status returns a snapshot of the current or most recent run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
