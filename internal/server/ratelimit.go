package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/54b3r/lawbot-go/internal/logging"
	"github.com/54b3r/lawbot-go/internal/lru"
)

const (
	// defaultRateLimit is the sustained questions per second allowed per
	// client on the chat endpoints.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client burst on the chat endpoints.
	defaultRateBurst = 20
	// maxTrackedClients bounds the number of per-client buckets kept. The
	// least recently seen client loses its bucket first and starts over
	// with a full burst if it returns.
	maxTrackedClients = 4096
)

// rateLimiter enforces a token bucket per client IP on the chat endpoints,
// where every request may cost an embedding call and a model completion.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	// mu makes lookup-or-create atomic; the cache itself is already safe.
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]

	// onReject is called for every refused request. May be nil.
	onReject func()
}

// newRateLimiter returns a limiter allowing rps requests per second with the
// given burst to each client.
func newRateLimiter(rps float64, burst int, onReject func()) *rateLimiter {
	return &rateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		clients:  lru.New[string, *rate.Limiter](maxTrackedClients),
		onReject: onReject,
	}
}

// limiterFor returns the bucket for ip, creating it on first sight.
func (rl *rateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.clients.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients.Put(ip, l)
	return l
}

// middleware refuses requests over the client's budget with 429, a
// Retry-After header and the standard JSON error body.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.limiterFor(ip).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		if rl.onReject != nil {
			rl.onReject()
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Too many requests, please slow down", nil)
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored
// because the server binds to localhost by default.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
