// Package shared holds response helpers used by every HTTP handler.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "chargegate/pkg/domain-errors"
)

// errorBody is the wire shape for error responses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP response. Non-domain errors
// surface as opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	var dErr *dErrors.Error
	if !errors.As(err, &dErr) {
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: string(dErrors.CodeInternal), Message: "internal error"})
		return
	}
	WriteJSON(w, statusFor(dErr.Code), errorBody{Error: string(dErr.Code), Message: dErr.Message, Field: dErr.Field})
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
