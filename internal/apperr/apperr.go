// Package apperr defines the error kinds shared by services and handlers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindStorage Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "storage"
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil && e.Message == "":
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Forbidden returns a KindForbidden error.
func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound returns a KindNotFound error.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict returns a KindConflict error.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Storage wraps a persistence failure. The cause is never shown to clients.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are KindStorage.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HTTPStatus maps err to a response status, error code and client message.
func HTTPStatus(err error) (status int, code, message string) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindStorage {
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest, "VALIDATION_FAILED", e.Message
	case KindUnauthorized:
		return http.StatusUnauthorized, "UNAUTHORIZED", e.Message
	case KindForbidden:
		return http.StatusForbidden, "FORBIDDEN", e.Message
	case KindNotFound:
		return http.StatusNotFound, "NOT_FOUND", e.Message
	case KindConflict:
		return http.StatusConflict, "CONFLICT", e.Message
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}
