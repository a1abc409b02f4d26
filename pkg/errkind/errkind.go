// Package errkind defines the single tagged error type used across the
// ingestion and analytics paths. Callers branch on Kind, never on concrete
// error types.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidRange     Kind = "invalid_range"
	InvalidTimeScope Kind = "invalid_time_scope"
	MalformedPayload Kind = "malformed_payload"
	FetchExhausted   Kind = "fetch_exhausted"
	NetworkTimeout   Kind = "network_timeout"
	NetworkError     Kind = "network_error"
	StoreError       Kind = "store_error"
)

// Error carries a kind discriminator plus the kind-specific fields that are
// meaningful for it (status code for response failures, timeout flag for
// transport failures, wrapped cause for everything).
type Error struct {
	Kind       Kind
	Msg        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is (or wraps) an Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the error is a transient transport failure that
// the fetch loop should retry.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == NetworkError || e.Kind == NetworkTimeout
	}
	return false
}
