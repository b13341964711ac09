// Package errs provides the unified error type used across all of querydeck.
//
// Every subsystem (drivers, tunnel, manager, export, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to handle errors without importing driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindQueryFailed, "failed to list tables", pgErr)
//
//	// In a handler, check the error kind:
//	if errs.IsConnectionNotFound(err) {
//	    http.Error(w, err.Error(), http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// MySQL, Postgres, ClickHouse and SSH failures are all mapped to one of
// these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown            ErrKind = iota
	ErrKindNotFound                   // no rows, no object, no bucket
	ErrKindNotConnected               // driver has no live pool / client
	ErrKindConnectionNotFound         // no registry entry for a connection ID
	ErrKindConnectionFailed           // cannot reach or authenticate to the backend
	ErrKindTimeout                    // context deadline / cancellation
	ErrKindQueryFailed                // SQL or storage operation error
	ErrKindSSH                        // tunnel setup or authentication failure
	ErrKindInvalidIdentifier          // table / column name failed validation
	ErrKindInvalidInput               // bad arguments from the caller
	ErrKindConfig                     // malformed or incomplete configuration
	ErrKindIO                         // local file / socket failure
	ErrKindSerialization              // JSON / CSV encoding failure
	ErrKindUnsupported                // operation not offered by this engine
	ErrKindPermissionDenied           // access denied / auth failure
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindConnectionNotFound:
		return "connection_not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindSSH:
		return "ssh"
	case ErrKindInvalidIdentifier:
		return "invalid_identifier"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindConfig:
		return "config"
	case ErrKindIO:
		return "io"
	case ErrKindSerialization:
		return "serialization"
	case ErrKindUnsupported:
		return "unsupported"
	case ErrKindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all querydeck subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// NotConnected is returned by a driver whose pool or client is not open.
func NotConnected() *Error {
	return New(ErrKindNotConnected, "not connected")
}

// ConnectionNotFound is returned by the manager for an unknown connection ID.
func ConnectionNotFound(id string) *Error {
	return Newf(ErrKindConnectionNotFound, "connection %s not found", id)
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsNotConnected reports whether err came from a driver with no live pool.
func IsNotConnected(err error) bool {
	return KindOf(err) == ErrKindNotConnected
}

// IsConnectionNotFound reports whether err names an unknown connection ID.
func IsConnectionNotFound(err error) bool {
	return KindOf(err) == ErrKindConnectionNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend SQL execution failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsSSH reports whether err came from the SSH tunnel.
func IsSSH(err error) bool {
	return KindOf(err) == ErrKindSSH
}

// IsInvalidIdentifier reports whether err is an identifier validation failure.
func IsInvalidIdentifier(err error) bool {
	return KindOf(err) == ErrKindInvalidIdentifier
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsConfig reports whether err is a configuration problem.
func IsConfig(err error) bool {
	return KindOf(err) == ErrKindConfig
}

// IsUnsupported reports whether err marks an operation the engine does not offer.
func IsUnsupported(err error) bool {
	return KindOf(err) == ErrKindUnsupported
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsIO reports whether err is a local file or socket failure.
func IsIO(err error) bool {
	return KindOf(err) == ErrKindIO
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
