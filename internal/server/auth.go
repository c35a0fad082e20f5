package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/lawbot-go/internal/logging"
)

// authRealm is the realm advertised in WWW-Authenticate challenges.
const authRealm = `Bearer realm="lawbot"`

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check; New logs a warning for that case once.
//
// Rejections use the same JSON error body as every other API failure, so the
// frontend can show one message format. The presented token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			rejectAuth(w, r, authRealm, "Authorization required", "missing bearer token")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			rejectAuth(w, r, authRealm+` error="invalid_token"`, "Invalid API key", "invalid bearer token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// rejectAuth logs the failure and writes a 401 with the given challenge.
func rejectAuth(w http.ResponseWriter, r *http.Request, challenge, message, reason string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeError(w, http.StatusUnauthorized, message, nil)
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header,
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
