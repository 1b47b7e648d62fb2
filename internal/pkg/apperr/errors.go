package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindPermission  Kind = "permission"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindState       Kind = "state"
	KindIntegration Kind = "integration"
)

// Error is a structured, user-facing failure. Code is a stable machine-readable reason.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindState:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindIntegration:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WithField sets the offending input field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithDetail adds one key to Details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// Wrap keeps the underlying cause for errors.Is/As.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error  { return newError(KindValidation, code, message) }
func Permission(code, message string) *Error  { return newError(KindPermission, code, message) }
func NotFound(code, message string) *Error    { return newError(KindNotFound, code, message) }
func Conflict(code, message string) *Error    { return newError(KindConflict, code, message) }
func State(code, message string) *Error       { return newError(KindState, code, message) }
func Integration(code, message string) *Error { return newError(KindIntegration, code, message) }

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// StatusOf returns the HTTP status for any error; unknown errors are 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
