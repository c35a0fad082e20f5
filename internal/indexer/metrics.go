package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the Supervisor.
type Metrics struct {
	// runsTotal counts finished reindex runs by outcome: "succeeded" or "failed".
	runsTotal *prometheus.CounterVec

	// chunksTotal counts chunks written across all runs.
	chunksTotal prometheus.Counter

	// running is 1 while a reindex is in flight.
	running prometheus.Gauge

	// durationSeconds records the wall-clock duration of each run.
	durationSeconds prometheus.Histogram
}

// NewMetrics registers the indexer metrics against reg. A nil reg creates
// unregistered collectors, which is convenient in tests and one-shot CLI
// runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Total number of reindex runs completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lawbot",
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Total number of chunks written to the vector store.",
		}),

		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lawbot",
			Subsystem: "index",
			Name:      "running",
			Help:      "1 while a reindex run is in progress.",
		}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lawbot",
			Subsystem: "index",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of reindex runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}
