package retryhttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newFastClient returns a client whose transport retries with millisecond
// backoff so tests stay quick.
func newFastClient() *http.Client {
	t := New(nil)
	t.InitialInterval = time.Millisecond
	t.MaxInterval = 2 * time.Millisecond
	return &http.Client{Transport: t}
}

func TestTransport_RetriesGatewayErrorsThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.WriteHeader(http.StatusGatewayTimeout)
		default:
			_, _ = io.WriteString(w, "ok")
		}
	}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL, strings.NewReader(`{"prompt":"x"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := newFastClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("got %d %q, want 200 \"ok\"", resp.StatusCode, body)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	for i, b := range bodies {
		if b != `{"prompt":"x"}` {
			t.Errorf("attempt %d body = %q, want the original body replayed", i+1, b)
		}
	}
}

func TestTransport_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := newFastClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if n := calls.Load(); n != int32(1+DefaultMaxRetries) {
		t.Errorf("calls = %d, want %d", n, 1+DefaultMaxRetries)
	}
}

func TestTransport_DoesNotRetryOtherStatuses(t *testing.T) {
	t.Parallel()
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := newFastClient().Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		resp.Body.Close()
		srv.Close()

		if resp.StatusCode != code {
			t.Errorf("status = %d, want %d", resp.StatusCode, code)
		}
		if n := calls.Load(); n != 1 {
			t.Errorf("status %d: calls = %d, want 1", code, n)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{name: "transport error", err: io.ErrUnexpectedEOF, want: true},
		{name: "bad gateway", resp: &http.Response{StatusCode: 502}, want: true},
		{name: "ok", resp: &http.Response{StatusCode: 200}, want: false},
		{name: "unavailable", resp: &http.Response{StatusCode: 503}, want: false},
	}
	for _, tc := range tests {
		if got := shouldRetry(tc.resp, tc.err); got != tc.want {
			t.Errorf("%s: shouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}
