package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fjod/boutique/internal/session"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// requireIdentity writes 401 and returns false when the request carries no session.
func requireIdentity(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	id, err := session.FromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return session.Identity{}, false
	}
	return id, true
}
