// Package errors provides the error codes surfaced by the offline sync core
// to its callers, including the mobile bridge.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a stable error code that can be bridged to the host
// application.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Local storage errors
	ErrLocalStorage ErrorCode = "LOCAL_STORAGE"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"

	// Remote errors
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"
	ErrTransport      ErrorCode = "TRANSPORT"

	// Pipeline errors
	ErrAttachment  ErrorCode = "ATTACHMENT_FAILED"
	ErrQueueClosed ErrorCode = "QUEUE_CLOSED"
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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// NotFound returns a NOT_FOUND error for the given entity and id.
func NotFound(entity, id string) *AppError {
	return Newf(ErrNotFound, "%s %s not found", entity, id)
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}

// IsLocalStorage reports whether err originates from local storage.
func IsLocalStorage(err error) bool {
	return Is(err, ErrLocalStorage)
}
