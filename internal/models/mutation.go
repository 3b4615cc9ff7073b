package models

import (
	"encoding/json"
	"time"
)

// MutationOp is the kind of local write being replayed.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Valid reports whether op is known.
func (op MutationOp) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// MutationStatus is the queue state of a mutation.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationDead    MutationStatus = "dead"
)

// QueuedMutation is a local write waiting to be replayed against the
// remote service.
type QueuedMutation struct {
	ID            UUID            `db:"id" json:"id"`
	Seq           int64           `db:"seq" json:"seq"`
	Table         EntityTable     `db:"table_name" json:"table"`
	EntityID      string          `db:"entity_id" json:"entity_id"`
	Op            MutationOp      `db:"op" json:"op"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt    time.Time       `db:"enqueued_at" json:"enqueued_at"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	NextAttemptAt time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	Status        MutationStatus  `db:"status" json:"status"`
}

// TableName returns the table name for QueuedMutation.
func (QueuedMutation) TableName() string {
	return "mutations"
}

// Ready reports whether the mutation's backoff has elapsed at now.
func (m QueuedMutation) Ready(now time.Time) bool {
	return m.Status == MutationPending && !now.Before(m.NextAttemptAt)
}

// Record decodes the payload into an EntityRecord.
func (m QueuedMutation) Record() (EntityRecord, error) {
	var r EntityRecord
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return EntityRecord{}, err
	}
	return r, nil
}
