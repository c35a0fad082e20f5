package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache label values.
const (
	cacheResponse  = "response"
	cacheEmbedding = "embedding"
)

// Metrics holds the Prometheus metrics recorded while answering questions.
// Construct it before the retriever so the embedding cache can report into
// it through ObserveEmbeddingCache.
type Metrics struct {
	// answersTotal counts answered questions by the stage that produced them.
	answersTotal *prometheus.CounterVec

	// failuresTotal counts questions that ended in an error.
	failuresTotal prometheus.Counter

	// durationSeconds records end-to-end answer latency by source.
	durationSeconds *prometheus.HistogramVec

	// cacheHits and cacheMisses count lookups per cache.
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// cacheEvictions counts entries pushed out of the response cache.
	cacheEvictions prometheus.Counter
}

// NewMetrics registers the answer metrics against reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		answersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Name:      "answers_total",
			Help:      "Total number of answered questions, partitioned by source.",
		}, []string{"source"}),

		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lawbot",
			Name:      "answer_failures_total",
			Help:      "Total number of questions that failed with an error.",
		}),

		// Retrieval and completion dominate; static-table answers land in
		// the first bucket.
		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lawbot",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end latency of answered questions.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),

		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits, partitioned by cache.",
		}, []string{"cache"}),

		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses, partitioned by cache.",
		}, []string{"cache"}),

		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lawbot",
			Name:      "response_cache_evictions_total",
			Help:      "Total number of entries evicted from the response cache.",
		}),
	}
}

// ObserveEmbeddingCache records one query-embedding cache lookup. Its
// signature matches rag.CacheObserver.
func (m *Metrics) ObserveEmbeddingCache(hit bool) {
	m.observeCache(cacheEmbedding, hit)
}

func (m *Metrics) observeCache(cache string, hit bool) {
	if hit {
		m.cacheHits.WithLabelValues(cache).Inc()
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}
