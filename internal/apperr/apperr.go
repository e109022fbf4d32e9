package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindNotFound       Kind = "not_found"
	KindStore          Kind = "store"
	KindNotification   Kind = "notification"
	KindInternal       Kind = "internal"
)

// Error is the error type rendered by the HTTP layer. Message is safe to
// return to clients; Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: msg, Err: err}
}

func Validation(code, field, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: msg}
}

func Store(err error) *Error {
	return &Error{Kind: KindStore, Code: "store", Message: "internal server error", Err: err}
}

func Notification(err error) *Error {
	return &Error{Kind: KindNotification, Code: "notification", Message: "notification delivery failed", Err: err}
}

var (
	ErrUnauthorized = New(KindAuthentication, "unauthorized", "authentication required")
	ErrRateLimited  = New(KindRateLimit, "rate_limited", "too many requests")
	ErrNotFound     = New(KindNotFound, "not_found", "resource not found")
)

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
