package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/huddle/chat-server/internal/metrics"
)

// Verifier checks a bearer token and returns the username it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type ctxKey struct{}

// RequireAuth rejects requests without a valid bearer token. A missing token
// is 401, an invalid one 403. The verified username is stored in the request
// context.
func RequireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				metrics.AuthFailures.WithLabelValues("bearer").Inc()
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			username, err := v.Verify(r.Context(), token)
			if err != nil || username == "" {
				metrics.AuthFailures.WithLabelValues("bearer").Inc()
				writeError(w, http.StatusForbidden, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
		})
	}
}

// WithUsername returns a context carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

// Username returns the username stored by RequireAuth, or "".
func Username(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
