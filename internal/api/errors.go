package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"querypulse/internal/domain"
	"querypulse/internal/middleware"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the JSON error body.
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err. Internal errors are logged and their text is not
// returned to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	reqID := middleware.RequestIDFromContext(r.Context())
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", reqID, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, Error{Code: status, Message: msg, RequestID: reqID})
}
