package sync

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/uuid"
)

// Payload is the body of a local write. ID may be empty on create, in
// which case one is generated. Fields is ignored for deletes.
type Payload struct {
	ID     string        `json:"id,omitempty"`
	Fields models.Fields `json:"-"`
}

// SubmitMutation applies a local write optimistically and queues it for
// replay. Invalid input is rejected before anything is written.
//
// The write is stamped with the clock, moved just past the stored row's
// UpdatedAt when the clock lags it, so the local apply always wins
// last-writer-wins. The mutation is enqueued first and withdrawn again if
// the local apply fails, so a write is never applied without being queued.
func (c *Coordinator) SubmitMutation(ctx context.Context, table models.EntityTable, op models.MutationOp, p Payload) (models.QueuedMutation, error) {
	if !table.Valid() {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "unknown entity table %q", table)
	}
	if !op.Valid() {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "unknown mutation op %q", op)
	}

	id := p.ID
	if id == "" {
		if op != models.OpCreate {
			return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "%s requires an id", op)
		}
		id = uuid.New()
	}

	existing, found, err := c.store.Lookup(ctx, table, id)
	if err != nil {
		return models.QueuedMutation{}, err
	}
	live := found && !existing.Deleted
	switch {
	case op == models.OpCreate && live:
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "%s %s already exists", table, id)
	case op != models.OpCreate && !live:
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", table, id)
	}

	at := models.Truncate(c.clock.Now())
	if found && !at.After(existing.UpdatedAt) {
		at = existing.UpdatedAt.Add(time.Millisecond)
	}

	var rec models.EntityRecord
	if op == models.OpDelete {
		rec = models.Tombstone(table, id, at)
	} else {
		if p.Fields == nil {
			return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "%s %s requires fields", op, table)
		}
		rec = models.NewRecord(id, p.Fields, at)
		if rec.Table != table {
			return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation, "%s fields submitted for table %s", rec.Table, table)
		}
	}
	if err := rec.Validate(); err != nil {
		return models.QueuedMutation{}, apperrors.Wrap(apperrors.ErrValidation, "invalid mutation", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return models.QueuedMutation{}, apperrors.Wrap(apperrors.ErrValidation, "encode mutation", err)
	}
	m, err := c.queue.Enqueue(ctx, models.QueuedMutation{
		Table:    table,
		EntityID: id,
		Op:       op,
		Payload:  payload,
	})
	if err != nil {
		return models.QueuedMutation{}, err
	}

	if _, err := c.store.Put(ctx, rec); err != nil {
		if ackErr := c.queue.Ack(ctx, m.ID); ackErr != nil {
			logging.Error("withdraw mutation after failed local apply", ackErr, map[string]interface{}{"id": m.ID})
		}
		return models.QueuedMutation{}, err
	}
	if op == models.OpDelete {
		c.purgeMedia(ctx, table, id)
	}

	logging.Debug("mutation submitted", map[string]interface{}{
		"id": m.ID, "table": table, "entity_id": id, "op": op,
	})
	if err := c.refreshCounts(ctx); err != nil {
		logging.Error("refresh queue counts", err)
	}
	if c.online() {
		c.RequestSync()
	}
	return m, nil
}
