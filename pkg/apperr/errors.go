// Package apperr defines the error kinds shared across services and the
// propagation policy attached to each. Handlers wrap causes with a kind; the
// API layer and the worker runtime map kinds to HTTP statuses and callback
// payloads without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and user-visible behavior.
type Kind string

// Error kinds. See the HTTP mapping in pkg/api/errors.go.
const (
	KindAuthFailed         Kind = "auth_failed"
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindModelMismatch      Kind = "collection_model_mismatch"
	KindServiceUnavailable Kind = "service_unavailable"
	KindTimeout            Kind = "timeout"
	KindStorage            Kind = "storage_error"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal_error"
)

// Error carries a kind, a human-readable message, and an optional cause.
// The message is safe to surface to clients; the cause is not.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given kind and message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with the given kind and a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of an error chain. Unclassified
// errors yield a generic message so internals never leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
