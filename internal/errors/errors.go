// Package errors defines the engine error taxonomy and its HTTP representation.
//
// Engines return *Error values classified by Kind; the transport layer maps
// them onto APIError responses. No engine failure escapes as a panic.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Kind classifies an engine failure.
type Kind string

const (
	// KindValidation marks bad caller input: wrong column type, missing
	// parameter, insufficient rows, malformed ordinal order.
	KindValidation Kind = "validation"
	// KindComputation marks a numerical failure such as a singular fit.
	KindComputation Kind = "computation"
	// KindDegraded marks an operation that succeeded but produced an empty
	// or trivial result. Surfaced as a warning, not a failure.
	KindDegraded Kind = "degraded"
)

// Error is the structured error every engine returns on failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation creates a caller-input error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Computation creates a numerical-failure error.
func Computation(format string, args ...any) *Error {
	return &Error{Kind: KindComputation, Message: fmt.Sprintf(format, args...)}
}

// Degraded creates a degraded-result warning error.
func Degraded(format string, args ...any) *Error {
	return &Error{Kind: KindDegraded, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not an engine *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// APIError represents a structured API error response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details.
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for common transport scenarios.
var (
	ErrSessionNotFound = New(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found or expired")
	ErrInternalServer  = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrValidation creates an APIError carrying a field-level validation failure.
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// FromEngine maps an engine error to its API representation. Validation
// failures map to 400, computation failures to 422, anything unrecognized
// to 500. Degraded results are never errors at the HTTP layer; callers
// surface them as warnings on a success payload.
func FromEngine(err error) *APIError {
	var e *Error
	if !errors.As(err, &e) {
		return NewWithDetails(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", err.Error())
	}
	switch e.Kind {
	case KindValidation:
		return NewWithDetails(http.StatusBadRequest, "INVALID_INPUT", e.Message, e)
	case KindComputation:
		return NewWithDetails(http.StatusUnprocessableEntity, "COMPUTATION_FAILED", e.Message, e)
	default:
		return NewWithDetails(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", e.Message, e)
	}
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse wraps an APIError in the standard envelope.
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: err}
}

// Render implements render.Renderer.
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
