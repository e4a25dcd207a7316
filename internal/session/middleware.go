package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware attaches the bearer token's identity to the request context.
// Requests without a valid token are rejected with 401.
func Middleware(v *Validator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			id, err := v.Validate(parts[1])
			if err != nil {
				log.InfoContext(r.Context(), "session rejected", "path", r.URL.Path, "error", err)
				unauthorized(w, "invalid or expired session")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
