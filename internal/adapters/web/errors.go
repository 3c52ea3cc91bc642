package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"invoice-engine/internal/app"
	"invoice-engine/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps engine errors onto the HTTP surface. Validation
// failures and conflicts are deliberately distinct: a conflict is a
// uniqueness violation, not a field defect, and gets its own status.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *core.ValidationError
	if errors.As(err, &validationErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     validationErr.Message,
			Code:      validationErr.Code,
			Field:     validationErr.Field,
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}

	var conflictErr *core.ConflictError
	if errors.As(err, &conflictErr) {
		writeError(w, r, conflictErr.Message, "DUPLICATE_INVOICE", http.StatusConflict)
		return
	}

	var fetchErr *core.FetchError
	if errors.As(err, &fetchErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     fetchErr.Error(),
			Code:      "COLLABORATOR_UNAVAILABLE",
			Retryable: true,
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}

	if errors.Is(err, app.ErrDraftNotFound) {
		writeError(w, r, err.Error(), "DRAFT_NOT_FOUND", http.StatusNotFound)
		return
	}
	if errors.Is(err, app.ErrSelectionSuperseded) {
		// The stale result was discarded; nothing for the client to show.
		writeError(w, r, err.Error(), "SELECTION_SUPERSEDED", http.StatusConflict)
		return
	}

	writeError(w, r, err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
}
