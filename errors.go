package dbqueue

import (
	"errors"
	"fmt"
)

// Error represents a dbqueue error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
// This lets errors.Is(err, ErrNoData) match any NO_DATA error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes for dbqueue operations.
const (
	// ErrCodeNoData indicates no data was found (e.g. the queue is empty).
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates an argument failed validation.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration
	// (unknown option key, malformed connection string).
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeTransport indicates the underlying store failed.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeDecode indicates a claimed message could not be decoded.
	ErrCodeDecode = "DECODE_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// Store.Get returns it when no message is currently claimable.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return IsCode(err, ErrCodeNoData)
}

// IsCode reports whether err (or anything it wraps) is an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
