package domain

import "errors"

// Kind is a stable machine-readable error category. Every error surfaced to
// a caller carries exactly one kind; transports map kinds to status codes.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindVersionConflict Kind = "version_conflict"
	KindUpstream        Kind = "upstream_generation_error"
	KindInternal        Kind = "internal_error"
)

// Error is a kinded error with a caller-safe message. Internal detail stays
// in the wrapped cause and is never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so sentinels like ErrNotFound
// compare by category rather than identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// E builds a kinded error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and caller-safe message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err. Unkinded errors get a
// generic message so storage or upstream detail does not leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Shared sentinels for the common cross-component kinds.
var (
	ErrUnauthenticated = E(KindUnauthenticated, "authentication required")
	ErrForbidden       = E(KindForbidden, "access denied")
	ErrNotFound        = E(KindNotFound, "session not found")
	ErrVersionConflict = E(KindVersionConflict, "concurrent update, retry")
)
