// Package retryhttp provides an [http.RoundTripper] that retries requests
// failing with transient upstream errors. It is installed on the HTTP
// clients that talk to the embedding and completion backends so callers see
// a single request/response exchange.
package retryhttp

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/lawbot-go/internal/logging"
)

// Defaults mirror the retry policy the completion backend is tuned for:
// three retries, exponential backoff from 300ms, only on gateway-class
// status codes.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 300 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// retryStatus is the set of status codes that trigger a retry.
var retryStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusGatewayTimeout:      true,
}

// Transport retries requests on 500/502/504 responses and on transport
// errors. Requests with a body are only retried when they can be rewound
// through [http.Request.GetBody], which [http.NewRequestWithContext] sets
// for the common in-memory body types.
type Transport struct {
	// Base performs the actual round trips. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// InitialInterval is the first backoff delay; later delays double.
	InitialInterval time.Duration
	// MaxInterval caps any single backoff delay.
	MaxInterval time.Duration
}

// New returns a Transport wrapping base with the default policy.
func New(base http.RoundTripper) *Transport {
	return &Transport{
		Base:            base,
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// RoundTrip implements [http.RoundTripper]. When retries are exhausted on a
// retryable status the last response is returned unchanged so the caller
// can report the upstream error.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	log := logging.FromContext(ctx)
	b := backoff.WithContext(backoff.WithMaxRetries(t.backOff(), t.MaxRetries), ctx)

	attempt := req
	for n := 1; ; n++ {
		resp, err := t.base().RoundTrip(attempt)
		if !shouldRetry(resp, err) {
			return resp, err //nolint:wrapcheck // transparent transport
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return resp, err //nolint:wrapcheck // retries exhausted, surface last outcome
		}

		next, ok := rewind(req)
		if !ok {
			return resp, err //nolint:wrapcheck // body cannot be replayed
		}

		log.Warn("retryhttp: retrying request",
			slog.String("url", req.URL.Redacted()),
			slog.Int("attempt", n),
			slog.Duration("backoff", wait),
			slog.Any("status", statusOf(resp)),
			slog.Any("error", err),
		)
		discard(resp)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err() //nolint:wrapcheck // caller cancelled
		case <-timer.C:
		}
		attempt = next
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.InitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}
	b.MaxInterval = t.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxInterval
	}
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// shouldRetry reports whether the outcome of one attempt is transient.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && retryStatus[resp.StatusCode]
}

// rewind returns a fresh copy of req for another attempt.
func rewind(req *http.Request) (*http.Request, bool) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	next.Body = body
	return next, true
}

// discard drains and closes a response body that will not be returned.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
