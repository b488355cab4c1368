// Package apperr carries the typed failures returned by the chat sync
// components and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	KindAuthFailure      Kind = "AUTH_FAILURE"
	KindNotFound         Kind = "NOT_FOUND"
	KindValidation       Kind = "VALIDATION"
	KindStorage          Kind = "STORAGE"
	KindTransientNetwork Kind = "TRANSIENT_NETWORK"
	KindInternal         Kind = "INTERNAL"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInvalidSession     = errors.New("invalid session")
	ErrSenderNotFound     = errors.New("sender not found")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrEmptyText          = errors.New("message text is empty")
	ErrMissingAvatar      = errors.New("avatar is required")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// Error is a failure with a kind, the operation that produced it and a
// client-safe message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func AuthFailure(op string, err error) *Error {
	return New(KindAuthFailure, op, messageOf(err, "authentication failed"), err)
}

func NotFound(op string, err error) *Error {
	return New(KindNotFound, op, messageOf(err, "not found"), err)
}

func Validation(op string, err error) *Error {
	return New(KindValidation, op, messageOf(err, "invalid request"), err)
}

func Storage(op string, err error) *Error {
	return New(KindStorage, op, "storage failure", err)
}

func Transient(op string, err error) *Error {
	return New(KindTransientNetwork, op, "temporarily unavailable", err)
}

func Internal(op string, err error) *Error {
	return New(KindInternal, op, "internal error", err)
}

func messageOf(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a failure onto a status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindStorage:
		return http.StatusBadGateway
	case KindTransientNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
