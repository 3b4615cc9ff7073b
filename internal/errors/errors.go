// Package errors provides the error taxonomy shared by the offline store,
// the mutation queue, the media cache and the sync coordinator.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure callers can branch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"

	// Local storage errors
	ErrDatabase      ErrorCode = "DATABASE_ERROR"
	ErrMigration     ErrorCode = "MIGRATION_FAILED"
	ErrQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Remote and sync errors
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	ErrRemoteRejected   ErrorCode = "REMOTE_REJECTED"
	ErrDeadLettered     ErrorCode = "DEAD_LETTERED"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"

	// Media errors
	ErrUnavailable ErrorCode = "UNAVAILABLE"
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
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
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

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
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

// Retryable reports whether the failure is worth retrying later without
// user intervention.
func Retryable(err error) bool {
	return Is(err, ErrTransientNetwork) || Is(err, ErrSyncInProgress)
}
