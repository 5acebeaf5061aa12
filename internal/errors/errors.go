// Package errors provides error code definitions for the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors. The operation store could not durably persist a
	// write or a status transition; fatal to the calling pass.
	ErrStorage    ErrorCode = "STORAGE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Execution errors for replayed operations.
	ErrTransientExecution ErrorCode = "TRANSIENT_EXECUTION_ERROR"
	ErrTerminalExecution  ErrorCode = "TERMINAL_EXECUTION_ERROR"
	ErrAttemptTimeout     ErrorCode = "ATTEMPT_TIMEOUT"
	ErrUnknownOperation   ErrorCode = "UNKNOWN_OPERATION"

	// Probe errors are normalized to "not ok" at the probe boundary and
	// never propagate; the code exists for logging only.
	ErrProbe ErrorCode = "PROBE_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the error code from err, or ErrInternal if it does not
// carry one.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool {
	return CodeOf(err) == ErrStorage || CodeOf(err) == ErrMigration
}

// IsTerminal reports whether err marks a replay failure that retrying cannot
// fix. Terminal failures escalate to dead without consuming the retry budget.
func IsTerminal(err error) bool {
	c := CodeOf(err)
	return c == ErrTerminalExecution || c == ErrUnknownOperation
}
