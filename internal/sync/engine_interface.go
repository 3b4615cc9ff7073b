// Package sync coordinates replay of queued local mutations against the
// remote service and pulls of remote changes into the record store.
package sync

import (
	"context"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// Engine is the part of the Coordinator the scheduler and the daemon
// depend on.
type Engine interface {
	// Sync runs one push/pull cycle.
	Sync(ctx context.Context) (*SyncResult, error)

	// State returns a copy of the current sync state.
	State() models.SyncState

	// Subscribe registers fn for state changes and returns its
	// unsubscribe func.
	Subscribe(fn func(models.SyncState)) func()

	// Requests delivers background sync requests raised by local writes.
	Requests() <-chan struct{}
}

var _ Engine = (*Coordinator)(nil)
