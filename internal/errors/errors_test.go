// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"validation", ErrValidation},
		{"not found", ErrNotFound},
		{"database", ErrDatabase},
		{"migration", ErrMigration},
		{"quota exceeded", ErrQuotaExceeded},
		{"transient network", ErrTransientNetwork},
		{"remote rejected", ErrRemoteRejected},
		{"dead lettered", ErrDeadLettered},
		{"sync in progress", ErrSyncInProgress},
		{"sync failed", ErrSyncFailed},
		{"unavailable", ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrQuotaExceeded, Message: "put record", Err: errors.New("disk full")},
			want:     "[QUOTA_EXCEEDED] put record: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap_unwrap verifies the underlying error stays reachable.
func TestWrap_unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrTransientNetwork, "push mutation", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// TestIs_walksChain verifies Is sees codes behind fmt wrapping and nesting.
func TestIs_walksChain(t *testing.T) {
	inner := New(ErrNotFound, "record missing")
	outer := Wrap(ErrDatabase, "lookup", inner)
	wrapped := fmt.Errorf("get exercise: %w", outer)

	if !Is(wrapped, ErrDatabase) {
		t.Error("Is(wrapped, ErrDatabase) = false")
	}
	if !Is(wrapped, ErrNotFound) {
		t.Error("Is(wrapped, ErrNotFound) = false")
	}
	if Is(wrapped, ErrQuotaExceeded) {
		t.Error("Is(wrapped, ErrQuotaExceeded) = true")
	}
	if Is(nil, ErrNotFound) {
		t.Error("Is(nil) = true")
	}
	if Is(errors.New("plain"), ErrNotFound) {
		t.Error("Is(plain error) = true")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", New(ErrUnavailable, "offline"))); got != ErrUnavailable {
		t.Errorf("CodeOf() = %s, want %s", got, ErrUnavailable)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrInternal)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrTransientNetwork, "timeout"), true},
		{New(ErrSyncInProgress, "busy"), true},
		{New(ErrRemoteRejected, "validation"), false},
		{New(ErrDeadLettered, "gave up"), false},
		{errors.New("plain"), false},
	}

	for _, tt := range tests {
		name := strings.ToLower(string(CodeOf(tt.err)))
		t.Run(name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
