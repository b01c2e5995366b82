package types

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so pkg/api can map it to an HTTP status without
// inspecting error strings.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"     // 400
	KindNotFound          Kind = "not_found"         // 404
	KindConflict          Kind = "conflict"          // 409, reserved for future use
	KindStartTimeout      Kind = "start_timeout"     // 500
	KindBuildFailed       Kind = "build_failed"      // 500
	KindEngineUnavailable Kind = "engine_unavailable" // 503
	KindStoreError        Kind = "store_error"       // 500
	KindHandlerError      Kind = "handler_error"     // 500
	KindTransportError    Kind = "transport_error"   // 502
)

// Error is a typed error carrying a Kind, a human-readable message, and
// optionally the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with the given kind and message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error with the given kind, wrapping the cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, otherwise "".
func KindOf(err error) Kind {
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr.Kind
	}
	return ""
}
