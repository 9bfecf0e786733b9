// Package apperr defines the flat error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindUnexpected is anything not otherwise classified. Details are never sent to callers.
	KindUnexpected Kind = iota
	// KindValidation is a missing or invalid request field.
	KindValidation
	// KindAuth is an unauthenticated caller.
	KindAuth
	// KindRateLimit is a caller over its request budget for the current window.
	KindRateLimit
	// KindNotFound is a lookup that matched nothing.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

// Error is a classified application error.
type Error struct {
	Kind       Kind
	Field      string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports an invalid field value.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

// MissingField reports a required field that was absent.
func MissingField(field string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: field + " is required"}
}

// Auth reports an unauthenticated caller.
func Auth(msg string) *Error {
	if msg == "" {
		msg = "authentication required"
	}
	return &Error{Kind: KindAuth, Message: msg}
}

// RateLimited reports a caller that exhausted its window. retryAfter is the delay until reset.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: "too many requests", RetryAfter: retryAfter}
}

// NotFound reports a missing resource.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Unexpected wraps err as an unclassified failure.
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindUnexpected when err carries no classification.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a Kind to its response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to a caller for err.
func PublicMessage(err error) string {
	ae, ok := As(err)
	if !ok || ae.Kind == KindUnexpected {
		return "internal server error"
	}
	if ae.Message != "" {
		return ae.Message
	}
	return ae.Kind.String()
}
