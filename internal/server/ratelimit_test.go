package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func chatFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimit_AllowsBurst(t *testing.T) {
	t.Parallel()

	h := newRateLimiter(100, 5, nil).middleware(okHandler)
	for i := range 5 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, chatFrom("127.0.0.1:12345"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimit_RejectsOverBurstWithJSON(t *testing.T) {
	t.Parallel()

	var rejected atomic.Int32
	h := newRateLimiter(0.001, 2, func() { rejected.Add(1) }).middleware(okHandler)

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), chatFrom("10.0.0.1:9999"))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatFrom("10.0.0.1:9999"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "error" || body.Message == "" {
		t.Errorf("unexpected body: %+v", body)
	}
	if got := rejected.Load(); got != 1 {
		t.Errorf("onReject calls: got %d, want 1", got)
	}
}

func TestRateLimit_ClientsAreIndependent(t *testing.T) {
	t.Parallel()

	h := newRateLimiter(0.001, 1, nil).middleware(okHandler)
	for range 5 {
		h.ServeHTTP(httptest.NewRecorder(), chatFrom("192.168.1.1:1111"))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatFrom("192.168.1.2:2222"))
	if w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_SameHostDifferentPortsShareBucket(t *testing.T) {
	t.Parallel()

	h := newRateLimiter(0.001, 1, nil).middleware(okHandler)
	h.ServeHTTP(httptest.NewRecorder(), chatFrom("10.0.0.3:1000"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatFrom("10.0.0.3:2000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for a new connection from the same host, got %d", w.Code)
	}
}

func TestRateLimit_TrackedClientsAreBounded(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(1, 1, nil)
	for i := range maxTrackedClients + 10 {
		rl.limiterFor(fmt.Sprintf("10.1.%d.%d", i/256, i%256))
	}
	if got := rl.clients.Len(); got != maxTrackedClients {
		t.Errorf("tracked clients: got %d, want %d", got, maxTrackedClients)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}
