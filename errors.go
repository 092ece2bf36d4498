// Package storagenode contains the core domain types for the storage node:
// the error taxonomy shared by path resolution and file operations, and the
// tagged entries returned when reading a path.
package storagenode

import "errors"

// ErrorKind is the machine-readable category of a failure.
type ErrorKind string

const (
	KindPathEscape ErrorKind = "path_escape" // client path resolves outside the storage root
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"  // non-empty directory or file/directory name collision
	KindForbidden  ErrorKind = "forbidden" // storage root deletion
	KindIOFailure  ErrorKind = "io_failure"
)

// Error is returned by the resolver and the file store instead of raw OS errors.
// Msg is safe to show to clients; Err carries the underlying cause (which may
// mention filesystem paths) and is only meant for logs.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so any failure
// matches its sentinel with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for use with errors.Is
var (
	ErrPathEscape = &Error{Kind: KindPathEscape, Msg: "path is outside of the storage root"}
	ErrNotFound   = &Error{Kind: KindNotFound, Msg: "file does not exist"}
	ErrConflict   = &Error{Kind: KindConflict, Msg: "conflicting item exists"}
	ErrForbidden  = &Error{Kind: KindForbidden, Msg: "operation is forbidden"}
	ErrIOFailure  = &Error{Kind: KindIOFailure, Msg: "i/o failure"}
)

// NewError builds an *Error of the given kind wrapping cause (which may be nil).
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the kind of err. Errors that did not originate from this
// package are treated as I/O failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOFailure
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ErrIOFailure.Msg
}
