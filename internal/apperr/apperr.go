package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidArgument       Kind = "INVALID_ARGUMENT"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindOutOfStock            Kind = "OUT_OF_STOCK"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindUnauthenticated       Kind = "UNAUTHENTICATED"
)

// Error is the only error type that crosses a service boundary. Message is
// safe to show to an operator; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a kind to the status the HTTP layer responds with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgument, KindConflict, KindOutOfStock:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func OutOfStock(format string, args ...any) *Error {
	return New(KindOutOfStock, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return New(KindUnauthenticated, format, args...)
}

// Unavailable wraps a datastore or downstream failure behind a generic message.
func Unavailable(err error, message string) *Error {
	return &Error{Kind: KindDependencyUnavailable, Message: message, Err: err}
}

// As destructs any error into an *Error. Errors that are not app errors
// become DependencyUnavailable so their text never reaches a client.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Unavailable(err, "an internal error occurred")
}

// Is reports whether err is an app error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
