package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed chat requests, partitioned by
	// outcome: "ok", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each chat
	// request from receipt to answer.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveRequests is the number of questions currently being answered.
	chatActiveRequests prometheus.Gauge

	// chatRateLimitedTotal counts chat requests refused by the per-client
	// rate limiter.
	chatRateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, which keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lawbot",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat requests from receipt to answer.",
			Buckets:   []float64{0.05, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lawbot",
			Subsystem: "chat",
			Name:      "active_requests",
			Help:      "Number of chat requests currently being answered.",
		}),

		chatRateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lawbot",
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Total number of chat requests refused by the per-client rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawbot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lawbot",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for next under the given
// handler name.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
