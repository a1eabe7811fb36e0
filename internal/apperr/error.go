// Package apperr carries typed error kinds through the execution pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Error is an error tagged with an ErrorCode.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

// Unwrap returns the underlying error (for errors.Is and errors.As)
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the default message of code
func New(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code, keeping its message.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// Wrapf tags err with code and replaces the message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// GetCode extracts the error code from any error in the chain.
// Untyped errors report Internal.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is checks if any error in the chain has the given code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// InvalidRequestf is shorthand for request validation failures.
func InvalidRequestf(format string, args ...any) *Error {
	return Newf(InvalidRequest, format, args...)
}
