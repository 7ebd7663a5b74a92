// Package apperr defines the error taxonomy surfaced on the HTTP edge.
// Every failure that crosses a component boundary is wrapped in an Error
// carrying a stable code; the gateway maps codes to status codes and
// renders {code, message, details}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodeAlreadyConfigured Code = "already_configured"
	CodeInvalid           Code = "invalid"
	CodeUnauthorized      Code = "unauthorized"
	CodeProtected         Code = "protected"
	CodeSpawnFailed       Code = "spawn_failed"
	CodeTimeout           Code = "timeout"
	CodeCancelled         Code = "cancelled"
	CodeUnavailable       Code = "unavailable"
	CodeConflict          Code = "conflict"
	CodeInternal          Code = "internal"
)

// Error is a failure with a stable code and an optional lower-layer detail.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of the error carrying the lower-layer message.
func (e *Error) WithDetails(details string) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func NotFound(what, name string) *Error {
	return Newf(CodeNotFound, "%s %q not found", what, name)
}

func AlreadyExists(what, name string) *Error {
	return Newf(CodeAlreadyExists, "%s %q already exists", what, name)
}

func Invalid(message string) *Error {
	return New(CodeInvalid, message)
}

func Invalidf(format string, args ...any) *Error {
	return Newf(CodeInvalid, format, args...)
}

func Protected(name string) *Error {
	return Newf(CodeProtected, "session %q is protected", name)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func SpawnFailed(message string, err error) *Error {
	e := New(CodeSpawnFailed, message)
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Internal(err error) *Error {
	e := New(CodeInternal, "internal error")
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// From extracts an *Error from err, wrapping unknown errors as Internal.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// HTTPStatus maps an error code to the status used on the REST surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeAlreadyConfigured, CodeConflict:
		return http.StatusConflict
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeProtected:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
