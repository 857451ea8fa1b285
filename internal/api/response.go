package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/menjalnica/internal/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError reports a domain or store error to the client. Infrastructure
// detail is logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrItemUnavailable):
		msg = "this item was just claimed by someone else"
	case status >= 500:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "service temporarily unavailable"
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	jsonError(w, status, msg)
}
