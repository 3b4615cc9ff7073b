// Package remote defines the authoritative data service the sync
// coordinator pushes to and pulls from, and an HTTP client for it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// Service is the remote data service. Implementations return *Error for
// failures the caller should classify.
type Service interface {
	// List returns records of table changed at or after since, tombstones
	// included. A zero since lists everything.
	List(ctx context.Context, table models.EntityTable, since time.Time) ([]models.EntityRecord, error)
	Create(ctx context.Context, rec models.EntityRecord) error
	Update(ctx context.Context, rec models.EntityRecord) error
	Delete(ctx context.Context, table models.EntityTable, id string) error
}

// ErrorKind classifies a remote failure.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindValidation ErrorKind = "validation"
	KindTransient  ErrorKind = "transient"
)

// Error is a classified remote failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Context deadlines and unclassified errors are
// transient.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// ToAppError maps err into the shared error taxonomy.
func ToAppError(err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case KindNotFound:
		return apperrors.Wrap(apperrors.ErrNotFound, "remote record not found", err)
	case KindConflict, KindValidation:
		return apperrors.Wrap(apperrors.ErrRemoteRejected, "remote rejected mutation", err)
	default:
		return apperrors.Wrap(apperrors.ErrTransientNetwork, "remote call failed", err)
	}
}
