// Package apperror carries an HTTP status and a stable reason code through
// the core so the transport router can translate an error into the right
// REST response without string-sniffing messages.
package apperror

import (
	"errors"
	"net/http"
)

// Kind names one of the four REST error classes.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindCapacity   Kind = "capacity"
)

// Error is a REST-facing error carrying its HTTP status alongside a message
// safe to return to the client.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps a Kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindCapacity:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a 400 validation error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// NotFound builds a 404 not-found error.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// Conflict builds a 409 conflict error.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// Capacity builds a 400 capacity error identifying the exceeded cap.
func Capacity(msg string) *Error { return &Error{Kind: KindCapacity, Message: msg} }

// StatusFor returns the HTTP status for any error, defaulting internal
// errors (including unwrapped stdlib errors) to 500. Handlers never leak
// stack traces: only *Error.Message is client-visible.
func StatusFor(err error) (int, string) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status(), ae.Message
	}
	return http.StatusInternalServerError, "internal error"
}
