// Package apperr classifies application errors so the outermost
// boundaries (HTTP handlers, worker loops) can map them to wire-level
// messages without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of an application error.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindBadRequest marks missing or malformed request parameters.
	KindBadRequest
	// KindNotFound marks an absent run, task or source table.
	KindNotFound
	// KindUnauthorized marks a caller lacking the role or stage-slot ownership.
	KindUnauthorized
	// KindConflict marks a task not in a runnable state.
	KindConflict
	// KindStorage marks a database failure.
	KindStorage
	// KindIngestion marks a file ingestion failure.
	KindIngestion
)

// Error carries a client-safe message together with its classification.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a literal message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error while keeping it on the chain.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf classifies an underlying error with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// BadRequest returns a KindBadRequest error.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// NotFound returns a KindNotFound error.
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

// Conflict returns a KindConflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Storage wraps a database failure.
func Storage(err error, message string) *Error {
	return Wrap(KindStorage, err, message)
}

// Ingestion returns a KindIngestion error.
func Ingestion(message string) *Error {
	return New(KindIngestion, message)
}

// KindOf walks the error chain and returns the first classification found,
// or KindUnknown when the error was never classified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Message returns the client-safe message for an error. Unclassified errors
// fall back to a generic message so internals never leak to the wire.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error's classification to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindIngestion:
		return http.StatusUnprocessableEntity
	case KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
