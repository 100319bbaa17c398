// Package status provides the uniform success/error carrier used across the
// duct transport layer. It defines a small enumerated error taxonomy and
// structured error values that map onto it, with helpers for classification
// and for wrapping lower-level causes.
package status

import (
	"errors"
	"fmt"
)

// Code classifies an operation outcome.
type Code int

const (
	// Ok indicates success. Functions returning a nil error imply Ok; a
	// *Status with code Ok is never returned as an error.
	Ok Code = iota

	// InvalidArgument indicates the caller violated an input contract.
	InvalidArgument

	// NotSupported indicates the operation or scheme is unavailable on this
	// platform or build.
	NotSupported

	// IoError indicates an unrecoverable low-level failure.
	IoError

	// Timeout indicates a per-call deadline expired without progress.
	Timeout

	// Closed indicates the peer closed, the local side closed, or an orderly
	// end-of-stream was observed.
	Closed

	// ProtocolError indicates the peer sent a byte stream that violates the
	// framing contract.
	ProtocolError
)

// codeNames maps codes to the names shown to users (CLI diagnostics, logs).
var codeNames = map[Code]string{
	Ok:              "Ok",
	InvalidArgument: "InvalidArgument",
	NotSupported:    "NotSupported",
	IoError:         "IoError",
	Timeout:         "Timeout",
	Closed:          "Closed",
	ProtocolError:   "ProtocolError",
}

// String returns the name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Status is an error with a Code and a diagnostic message. It optionally
// wraps an underlying cause for errors.Is/errors.As traversal.
type Status struct {
	code    Code
	message string
	cause   error
}

// Error implements the error interface.
func (s *Status) Error() string {
	if s.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", s.code, s.message, s.cause)
	}
	return fmt.Sprintf("[%s] %s", s.code, s.message)
}

// Code returns the status code.
func (s *Status) Code() Code { return s.code }

// Message returns the diagnostic message without the code prefix.
func (s *Status) Message() string { return s.message }

// Unwrap returns the wrapped cause, if any.
func (s *Status) Unwrap() error { return s.cause }

// Is reports whether target carries the same code. This lets callers write
// errors.Is(err, status.Errf(status.Closed, "")) style comparisons that
// ignore the message.
func (s *Status) Is(target error) bool {
	var t *Status
	if errors.As(target, &t) {
		return s.code == t.code
	}
	return false
}

// WithCause returns a copy of the status wrapping the given cause.
func (s *Status) WithCause(cause error) *Status {
	return &Status{code: s.code, message: s.message, cause: cause}
}

// New returns a status error with the given code and message.
func New(code Code, message string) *Status {
	return &Status{code: code, message: message}
}

// Errf returns a status error with a formatted message.
func Errf(code Code, format string, args ...interface{}) *Status {
	return &Status{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap returns a status error with the given code and message wrapping cause.
func Wrap(cause error, code Code, message string) *Status {
	return &Status{code: code, message: message, cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, code Code, format string, args ...interface{}) *Status {
	return &Status{code: code, message: fmt.Sprintf(format, args...), cause: cause}
}

// Constructor helpers, one per code.

func InvalidArgumentf(format string, args ...interface{}) *Status {
	return Errf(InvalidArgument, format, args...)
}

func NotSupportedf(format string, args ...interface{}) *Status {
	return Errf(NotSupported, format, args...)
}

func IoErrorf(format string, args ...interface{}) *Status {
	return Errf(IoError, format, args...)
}

func Timeoutf(format string, args ...interface{}) *Status {
	return Errf(Timeout, format, args...)
}

func Closedf(format string, args ...interface{}) *Status {
	return Errf(Closed, format, args...)
}

func ProtocolErrorf(format string, args ...interface{}) *Status {
	return Errf(ProtocolError, format, args...)
}

// CodeOf extracts the status code from err. A nil error is Ok; a non-status
// error is classified as IoError.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var s *Status
	if errors.As(err, &s) {
		return s.code
	}
	return IoError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool { return CodeOf(err) == code }

// IsClosed reports whether err indicates a closed pipe or end-of-stream.
func IsClosed(err error) bool { return IsCode(err, Closed) }

// IsTimeout reports whether err indicates an expired per-call deadline.
func IsTimeout(err error) bool { return IsCode(err, Timeout) }

// IsDisconnect reports whether err is the kind of transient transport
// failure that an auto-reconnecting pipe recovers from (Closed or IoError).
// Protocol violations and invalid arguments are never disconnects.
func IsDisconnect(err error) bool {
	c := CodeOf(err)
	return c == Closed || c == IoError
}
