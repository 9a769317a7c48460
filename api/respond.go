package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/cisentry/cisentry/internal/auth"
	"github.com/cisentry/cisentry/internal/idp"
	"github.com/cisentry/cisentry/pkg/repository"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error("encode response", slog.Any("err", err))
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, errorBody{Error: msg}, status)
}

// writeDomainError maps service/repository errors onto HTTP statuses.
// Unknown failures become a generic 500 with a server-side log entry.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, idp.ErrUnauthorized):
		writeError(w, "invalid or expired token", http.StatusUnauthorized)
	case errors.Is(err, idp.ErrUnavailable):
		writeError(w, "identity provider unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, "forbidden", http.StatusForbidden)
	default:
		logger.Error("internal error", slog.Any("err", err))
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
