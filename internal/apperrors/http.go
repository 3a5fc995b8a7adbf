// Package apperrors maps internal errors onto the JSON error envelope
// every HTTP response uses.
//
// The envelope is part of the client contract:
//
//	{"error": {"code": "CONFLICT", "message": "...", "request_id": "..."}}
package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencurate/ferry/pkg/jobstore"
	"github.com/opencurate/ferry/pkg/provider"
)

// HTTPErrorResponse is the wire shape of every error reply.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ValidationError marks a client-side request problem (bad body,
// unknown target, missing header). Always rendered as 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation builds a ValidationError.
func NewValidation(message string) error {
	return &ValidationError{Message: message}
}

// Classify maps an error to its HTTP status and stable error code.
func Classify(err error) (status int, code string, message string) {
	var validation *ValidationError
	var unsupported *provider.UnsupportedActionError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION", validation.Message
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, "VALIDATION", unsupported.Error()
	case errors.Is(err, jobstore.ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT",
			"a job for this credential and action is already in progress"
	case errors.Is(err, jobstore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "no job found for this ticket"
	case errors.Is(err, jobstore.ErrGone):
		return http.StatusGone, "GONE", "the requested resource is no longer available"
	case errors.Is(err, provider.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED", "token is invalid for the requested provider"
	case errors.Is(err, provider.ErrAccessDenied):
		return http.StatusForbidden, "FORBIDDEN", "access to the requested resource was denied"
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "the requested resource was not found"
	}
	// Internal detail stays in operator logs, not in client responses.
	return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
}

// RespondWithError renders err through the envelope. The request id is
// taken from the X-Request-ID header when present.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Classify(err)
	RespondWithCode(w, r, status, code, message)
}

// RespondWithCode renders an explicit status/code pair.
func RespondWithCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := HTTPErrorResponse{Error: ErrorBody{Code: code, Message: message}}
	if r != nil {
		resp.Error.RequestID = r.Header.Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
