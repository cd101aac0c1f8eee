// Package errors provides structured errors with HTTP status mapping for the control API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error, used for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeNotFound indicates an unknown route (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a request that conflicts with the current state (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeRateLimited indicates a throttled client (HTTP 429)
	TypeRateLimited ErrorType = "rate_limited"
	// TypeUnavailable indicates the service cannot answer right now (HTTP 503)
	TypeUnavailable ErrorType = "unavailable"
	// TypeInternal indicates a server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates a failing upstream (HTTP 502)
	TypeExternal ErrorType = "external"
)

// Error is a structured error with type, message and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for the error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ValidationError creates a validation error (HTTP 400).
func ValidationError(message string, cause error) *Error {
	return newError(TypeValidation, message, cause)
}

// ConflictError creates a conflict error (HTTP 409).
func ConflictError(message string, cause error) *Error {
	return newError(TypeConflict, message, cause)
}

// UnavailableError creates a service-unavailable error (HTTP 503).
func UnavailableError(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

// InternalError creates an internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithContext adds a context field to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// Classifier maps a plain error to a structured one, or returns nil to decline.
type Classifier func(err error) *Error

// AsStructuredError converts any error into a structured Error. An *Error in the
// chain is returned unchanged; otherwise each classifier is tried in order and
// anything left over becomes an internal error.
func AsStructuredError(err error, classifiers ...Classifier) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	for _, classify := range classifiers {
		if se := classify(err); se != nil {
			return se
		}
	}

	return InternalError("internal server error", err)
}
