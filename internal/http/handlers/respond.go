package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// jsonError writes {"detail": msg}, the error shape clients read.
func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	return dec.Decode(v)
}

// currentUser returns the identity RequireUser attached. Routes without it
// are a wiring bug, reported as 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*session.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return id, true
}

// recordsStatus maps repository errors to HTTP statuses.
func recordsStatus(err error) (int, string) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, records.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, records.ErrMissingField), errors.Is(err, records.ErrNoMedications):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, records.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
