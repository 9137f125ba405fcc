// Package apperr defines the error taxonomy shared by every layer of
// Blockwright. Each error carries a [Kind] that callers switch on to
// decide whether to retry, contain, or surface a failure, and that the
// HTTP layer maps to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindExternalService Kind = "external_service"
	KindTimeout         Kind = "timeout"
	KindConflict        Kind = "conflict"
	KindRateLimit       Kind = "rate_limit"
	KindInternal        Kind = "internal"
)

// Error is a classified error. Service names the upstream dependency
// for external_service errors (e.g. "anthropic", "wordpress").
type Error struct {
	Kind    Kind
	Message string
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.Err == nil {
		return msg
	}
	if msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a state clash, such as a duplicate identifier.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// RateLimit reports backpressure, either local or from an upstream.
func RateLimit(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimit, Message: fmt.Sprintf(format, args...)}
}

// External wraps a failure reported by an upstream service.
func External(service string, err error) *Error {
	return &Error{Kind: KindExternalService, Service: service, Err: err}
}

// Wrap attaches kind to err with a message prefix. A nil err returns nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first [*Error] in err's chain, or
// [KindInternal] if none is found. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether an operation that failed with err may
// succeed if attempted again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExternalService, KindTimeout, KindRateLimit:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status code returned to API callers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindExternalService:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
