// Package conflict detects and records divergence between local rows and
// records pulled from the remote service.
//
// The policy is last-writer-wins by UpdatedAt with ties going to the
// incoming write. Nothing is merged; a detected conflict is logged for
// user awareness and the record store applies the winner.
package conflict

import (
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/uuid"
)

// Resolution values stored in the conflict log.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
)

// Resolver handles conflict detection during pulls.
type Resolver struct {
	clock clock.Clock
}

// NewResolver creates a Resolver stamping detections with clk.
func NewResolver(clk clock.Clock) *Resolver {
	if clk == nil {
		clk = clock.Real()
	}
	return &Resolver{clock: clk}
}

// Conflict is a local row and a pulled record that both changed since the
// last successful sync.
type Conflict struct {
	Local      models.EntityRecord
	Remote     models.EntityRecord
	DetectedAt time.Time
}

// ResolveResult is the outcome of resolving a Conflict.
type ResolveResult struct {
	Winner      models.EntityRecord
	Loser       models.EntityRecord
	RemoteWins  bool
	ConflictLog models.ConflictLog
}

// Detect reports whether applying remote over local is a conflict: the
// local row exists, was written after lastSync, and carries a different
// timestamp from the pulled record. A zero lastSync treats every local
// row as unsynced.
func (r *Resolver) Detect(local models.EntityRecord, found bool, remote models.EntityRecord, lastSync time.Time) (*Conflict, bool) {
	if !found {
		return nil, false
	}
	if local.Table != remote.Table || local.ID != remote.ID {
		return nil, false
	}
	if models.Millis(local.UpdatedAt) == models.Millis(remote.UpdatedAt) {
		return nil, false
	}
	if !lastSync.IsZero() && !local.UpdatedAt.After(lastSync) {
		return nil, false
	}

	c := &Conflict{Local: local, Remote: remote, DetectedAt: r.clock.Now()}
	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"table":             local.Table,
			"entity_id":         local.ID,
			"local_updated_at":  local.UpdatedAt,
			"remote_updated_at": remote.UpdatedAt,
			"local_deleted":     local.Deleted,
			"remote_deleted":    remote.Deleted,
		})
	return c, true
}

// Resolve picks the winner by last-writer-wins and builds the log entry.
func (r *Resolver) Resolve(c *Conflict) ResolveResult {
	res := ResolveResult{Winner: c.Local, Loser: c.Remote}
	resolution := ResolutionLocalWins
	if c.Remote.NewerThan(c.Local) {
		res.Winner, res.Loser = c.Remote, c.Local
		res.RemoteWins = true
		resolution = ResolutionRemoteWins
	}

	res.ConflictLog = models.ConflictLog{
		ID:              models.UUID(uuid.New()),
		Table:           c.Local.Table,
		EntityID:        c.Local.ID,
		LocalUpdatedAt:  c.Local.UpdatedAt,
		RemoteUpdatedAt: c.Remote.UpdatedAt,
		Resolution:      resolution,
		DetectedAt:      c.DetectedAt,
	}

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"table":             c.Local.Table,
			"entity_id":         c.Local.ID,
			"local_updated_at":  c.Local.UpdatedAt,
			"remote_updated_at": c.Remote.UpdatedAt,
			"resolution":        resolution,
		})
	return res
}
