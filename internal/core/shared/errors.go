package shared

import (
	"errors"
	"fmt"
)

// Error is a handle error with a stable code.
type Error struct {
	Code    string // e.g. "SM-SHV-5001"
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
	}
}

// Code extracts the code from err, or "" if err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	// ErrInvalidKey indicates an empty group key.
	ErrInvalidKey = &Error{Code: "SM-SHV-4000", Message: "invalid key"}

	// ErrDestroyed indicates an operation that needs the bus on a destroyed handle.
	ErrDestroyed = &Error{Code: "SM-SHV-4100", Message: "handle destroyed"}

	// ErrStoreRead indicates the store could not be read during construction.
	ErrStoreRead = &Error{Code: "SM-SHV-5001", Message: "store read failed"}

	// ErrEncode indicates a value could not be encoded for the wire.
	ErrEncode = &Error{Code: "SM-SHV-5002", Message: "encode value"}

	// ErrSubscribe indicates a bus subscription failed during construction.
	ErrSubscribe = &Error{Code: "SM-SHV-5030", Message: "subscribe failed"}

	// ErrPublish indicates a bus publish failed.
	ErrPublish = &Error{Code: "SM-SHV-5031", Message: "publish failed"}
)
