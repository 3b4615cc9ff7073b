package sync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/queue"
	"github.com/kimhsiao/gymnexus/backend/internal/telemetry"
)

// SyncResult represents the result of a sync cycle.
type SyncResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Push phase.
	Pushed       int `json:"pushed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	Deferred     int `json:"deferred"`
	Blocked      int `json:"blocked"`

	// Pull phase.
	Pulled    int `json:"pulled"`
	Stale     int `json:"stale"`
	Rejected  int `json:"rejected"`
	Conflicts int `json:"conflicts"`

	// PurgedTombstones counts deletion markers dropped after a complete
	// pull.
	PurgedTombstones int `json:"purged_tombstones,omitempty"`

	// InProgress is set when the call found another cycle running and
	// did nothing.
	InProgress bool `json:"in_progress,omitempty"`

	// Preempted is set when connectivity was lost and the cycle stopped
	// issuing remote calls.
	Preempted bool `json:"preempted,omitempty"`

	// PullComplete is set when every table was pulled and last_sync_at
	// advanced to StartTime.
	PullComplete bool `json:"pull_complete"`

	Error string `json:"error,omitempty"`
}

// Sync runs one cycle: push queued mutations, then pull remote changes.
// Only one cycle runs at a time; a concurrent call returns a result with
// InProgress set and an ErrSyncInProgress error.
func (c *Coordinator) Sync(ctx context.Context) (result *SyncResult, err error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return &SyncResult{InProgress: true}, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer c.syncing.Store(false)

	start := models.Truncate(c.clock.Now())
	result = &SyncResult{StartTime: start}

	if !c.online() {
		result.Preempted = true
		result.EndTime = start
		logging.Debug("sync skipped while offline", nil)
		return result, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "sync.cycle")
	defer func() {
		span.SetAttributes(
			attribute.Int("sync.pushed", result.Pushed),
			attribute.Int("sync.pulled", result.Pulled),
			attribute.Int("sync.dead_lettered", result.DeadLettered),
			attribute.Bool("sync.preempted", result.Preempted),
		)
		telemetry.End(span, err)
	}()

	c.update(func(s *models.SyncState) {
		s.IsSyncing = true
		s.Phase = models.PhaseSyncing
	})
	logging.Info("Sync cycle started", nil)

	defer func() {
		result.EndTime = c.clock.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		if err != nil {
			result.Error = err.Error()
		}

		countErr := c.refreshCounts(context.WithoutCancel(ctx))
		if err == nil && countErr != nil {
			err = countErr
		}
		c.update(func(s *models.SyncState) {
			s.IsSyncing = false
			s.IsOnline = c.online()
			s.Phase = models.PhaseIdle
			if !s.IsOnline {
				s.Phase = models.PhaseOffline
			}
			s.LastError = result.Error
			if result.PullComplete {
				t := start
				s.LastSyncAt = &t
			}
		})

		fields := map[string]interface{}{
			"pushed":        result.Pushed,
			"failed":        result.Failed,
			"dead_lettered": result.DeadLettered,
			"deferred":      result.Deferred,
			"blocked":       result.Blocked,
			"pulled":        result.Pulled,
			"conflicts":     result.Conflicts,
			"preempted":     result.Preempted,
			"duration_ms":   result.Duration.Milliseconds(),
		}
		if err != nil {
			logging.ErrorWithCode("Sync cycle failed", string(apperrors.CodeOf(err)), err, fields)
		} else {
			logging.Info("Sync cycle completed", fields)
		}
	}()

	if err := c.push(ctx, result); err != nil {
		return result, err
	}
	if result.Preempted {
		return result, nil
	}
	if err := c.pull(ctx, start, result); err != nil {
		return result, err
	}
	return result, nil
}

// =====================================================
// Push
// =====================================================

// push drains every table. Within a table mutations are visited in
// enqueue order; once a mutation for an entity is deferred, fails or is
// dead-lettered, later mutations for that entity wait for the next cycle.
func (c *Coordinator) push(ctx context.Context, result *SyncResult) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.push")
	defer func() { telemetry.End(span, err) }()

	blocked, err := c.queue.DeadEntities(ctx)
	if err != nil {
		return err
	}

	for _, table := range models.Tables {
		seen := map[models.UUID]bool{}
		for {
			limit := c.cfg.BatchSize + len(seen)
			batch, err := c.queue.PeekBatch(ctx, table, limit)
			if err != nil {
				return err
			}

			fresh := 0
			for _, m := range batch {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				fresh++

				key := queue.EntityKey(m.Table, m.EntityID)
				if blocked[key] {
					result.Blocked++
					continue
				}
				if !m.Ready(c.clock.Now()) {
					blocked[key] = true
					result.Deferred++
					continue
				}
				if !c.online() {
					result.Preempted = true
					logging.Warn("Went offline during push, stopping", map[string]interface{}{"table": table})
					return nil
				}

				ok, err := c.replay(ctx, m, result)
				if err != nil {
					return err
				}
				if !ok {
					blocked[key] = true
				}
			}
			if fresh == 0 || len(batch) < limit {
				break
			}
		}
	}
	return nil
}

// replay sends one mutation and settles it in the queue. It reports
// whether the mutation left the queue as delivered.
func (c *Coordinator) replay(ctx context.Context, m models.QueuedMutation, result *SyncResult) (bool, error) {
	rec, err := m.Record()
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		if _, dlErr := c.queue.DeadLetter(ctx, m.ID, apperrors.Wrap(apperrors.ErrValidation, "corrupt payload", err)); dlErr != nil {
			return false, dlErr
		}
		result.DeadLettered++
		return false, nil
	}

	callErr := c.callRemote(ctx, m.Op, rec)
	if callErr == nil {
		if err := c.queue.Ack(ctx, m.ID); err != nil {
			return false, err
		}
		result.Pushed++
		return true, nil
	}

	kind := remote.KindOf(callErr)
	if kind == remote.KindNotFound && m.Op == models.OpDelete {
		// Already gone remotely.
		if err := c.queue.Ack(ctx, m.ID); err != nil {
			return false, err
		}
		result.Pushed++
		return true, nil
	}

	if kind == remote.KindTransient {
		failed, err := c.queue.Fail(ctx, m.ID, callErr)
		if err != nil {
			return false, err
		}
		if failed.Status == models.MutationDead {
			result.DeadLettered++
		} else {
			result.Failed++
		}
		return false, nil
	}

	// Validation, conflict, and not-found on create/update: no retry fixes these.
	if _, err := c.queue.DeadLetter(ctx, m.ID, remote.ToAppError(callErr)); err != nil {
		return false, err
	}
	result.DeadLettered++
	return false, nil
}

func (c *Coordinator) callRemote(ctx context.Context, op models.MutationOp, rec models.EntityRecord) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "remote."+string(op),
		attribute.String("entity.table", string(rec.Table)),
		attribute.String("entity.id", rec.ID))
	defer func() { telemetry.End(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()

	switch op {
	case models.OpCreate:
		err = c.remote.Create(ctx, rec)
	case models.OpUpdate:
		err = c.remote.Update(ctx, rec)
	case models.OpDelete:
		err = c.remote.Delete(ctx, rec.Table, rec.ID)
	default:
		err = remote.NewError(remote.KindValidation, "unknown op %q", op)
	}
	if err != nil && ctx.Err() != nil && remote.KindOf(err) != remote.KindTransient {
		err = &remote.Error{Kind: remote.KindTransient, Message: "remote call timed out", Err: err}
	}
	return err
}

// =====================================================
// Pull
// =====================================================

// pull applies remote changes since the last successful pull. Every record
// goes through the store's last-writer-wins, so a stale remote row never
// overwrites a newer local write. last_sync_at advances to start only
// when every table was pulled.
func (c *Coordinator) pull(ctx context.Context, start time.Time, result *SyncResult) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.pull")
	defer func() { telemetry.End(span, err) }()

	since, _, err := c.store.LastSyncAt(ctx)
	if err != nil {
		return err
	}

	var pullErr error
	for _, table := range models.Tables {
		if !c.online() {
			result.Preempted = true
			logging.Warn("Went offline during pull, stopping", map[string]interface{}{"table": table})
			return nil
		}

		recs, err := c.listRemote(ctx, table, since)
		if err != nil {
			logging.Warn("Pull failed for table", map[string]interface{}{
				"table": table, "error": err.Error(), "kind": string(remote.KindOf(err)),
			})
			if pullErr == nil {
				pullErr = apperrors.Wrap(apperrors.ErrSyncFailed, "pull "+string(table), remote.ToAppError(err))
			}
			continue
		}

		for _, rec := range recs {
			if err := c.applyPulled(ctx, table, rec, since, result); err != nil {
				return err
			}
		}
	}
	if pullErr != nil {
		return pullErr
	}

	if err := c.store.SetLastSyncAt(ctx, start); err != nil {
		return err
	}
	result.PullComplete = true

	n, err := c.store.PurgeTombstones(ctx, start.Add(-c.cfg.TombstoneRetention))
	if err != nil {
		logging.Warn("tombstone purge failed", map[string]interface{}{"error": err.Error()})
	}
	result.PurgedTombstones = int(n)
	return nil
}

func (c *Coordinator) listRemote(ctx context.Context, table models.EntityTable, since time.Time) ([]models.EntityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()
	return c.remote.List(ctx, table, since)
}

func (c *Coordinator) applyPulled(ctx context.Context, table models.EntityTable, rec models.EntityRecord, since time.Time, result *SyncResult) error {
	if rec.Table == "" {
		rec.Table = table
	}
	if err := rec.Validate(); err != nil || rec.Table != table {
		logging.Warn("Skipping invalid remote record", map[string]interface{}{
			"table": table, "entity_id": rec.ID, "error": errText(err),
		})
		result.Rejected++
		return nil
	}

	local, found, err := c.store.Lookup(ctx, table, rec.ID)
	if err != nil {
		return err
	}
	if conflict, ok := c.resolver.Detect(local, found, rec, since); ok {
		res := c.resolver.Resolve(conflict)
		if err := c.store.RecordConflict(ctx, res.ConflictLog); err != nil {
			return err
		}
		result.Conflicts++
	}

	var applied bool
	if rec.Deleted {
		applied, err = c.store.Delete(ctx, table, rec.ID, rec.UpdatedAt)
	} else {
		applied, err = c.store.Put(ctx, rec)
	}
	if err != nil {
		return err
	}
	if !applied {
		result.Stale++
		return nil
	}
	result.Pulled++
	if rec.Deleted && found && !local.Deleted {
		c.purgeMedia(ctx, table, rec.ID)
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return "table mismatch"
	}
	return err.Error()
}
