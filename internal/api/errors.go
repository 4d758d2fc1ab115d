package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ariston-bridge/internal/auth"
	"github.com/nerrad567/ariston-bridge/internal/bridges/ariston"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeUpstream     = "upstream_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, ErrCodeUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	case errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, ariston.ErrNotFound), errors.Is(err, ariston.ErrUnknownParameter):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, ariston.ErrValidation),
		errors.Is(err, ariston.ErrReadOnly),
		errors.Is(err, ariston.ErrUnsupportedParameter):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, ariston.ErrStaleWrite):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, ariston.ErrNotRunning):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, ariston.ErrAuthentication), errors.Is(err, ariston.ErrTransport):
		return http.StatusBadGateway, ErrCodeUpstream
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeDomainError writes err using the status mapping of statusFor.
// Internal errors are reported without their message.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
