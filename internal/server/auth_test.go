package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func authRequest(header string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/articles/5", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return req
}

func TestAuthMiddleware_DisabledWithoutKey(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	authMiddleware("", okHandler).ServeHTTP(w, authRequest(""))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		header    string
		wantCode  int
		wantError bool
	}{
		{"missing header", "", http.StatusUnauthorized, false},
		{"wrong token", "Bearer wrong-token", http.StatusUnauthorized, true},
		{"prefix of key", "Bearer secr", http.StatusUnauthorized, true},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, false},
		{"correct token", "Bearer secret", http.StatusOK, false},
		{"lowercase scheme", "bearer secret", http.StatusOK, false},
	}

	h := authMiddleware("secret", okHandler)
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, authRequest(tc.header))

		if w.Code != tc.wantCode {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.wantCode, w.Code)
			continue
		}
		if tc.wantCode != http.StatusUnauthorized {
			continue
		}

		challenge := w.Header().Get("WWW-Authenticate")
		if !strings.HasPrefix(challenge, `Bearer realm="lawbot"`) {
			t.Errorf("%s: unexpected challenge %q", tc.name, challenge)
		}
		if got := strings.Contains(challenge, "invalid_token"); got != tc.wantError {
			t.Errorf("%s: invalid_token in challenge = %v, want %v", tc.name, got, tc.wantError)
		}

		var body errorResponse
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.name, err)
		}
		if body.Status != "error" || body.Message == "" {
			t.Errorf("%s: unexpected body %+v", tc.name, body)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		if got := bearerToken(authRequest(tc.header)); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
