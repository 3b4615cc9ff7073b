package models

import "time"

// SyncPhase is the coordinator state machine position.
type SyncPhase string

const (
	PhaseIdle    SyncPhase = "idle"
	PhaseSyncing SyncPhase = "syncing"
	PhaseOffline SyncPhase = "offline"
)

// SyncState is the process-wide sync status surfaced to the presentation
// layer. Callers always receive a copy.
type SyncState struct {
	IsOnline        bool       `json:"is_online"`
	IsSyncing       bool       `json:"is_syncing"`
	Phase           SyncPhase  `json:"phase"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	PendingCount    int        `json:"pending_count"`
	DeadLetterCount int        `json:"dead_letter_count"`
	LastError       string     `json:"last_error,omitempty"`
}

// ConflictLog records a pull that met a diverging local row. It is kept
// for user awareness; last-writer-wins already decided the outcome.
type ConflictLog struct {
	ID              UUID        `db:"id" json:"id"`
	Table           EntityTable `db:"table_name" json:"table"`
	EntityID        string      `db:"entity_id" json:"entity_id"`
	LocalUpdatedAt  time.Time   `db:"local_updated_at" json:"local_updated_at"`
	RemoteUpdatedAt time.Time   `db:"remote_updated_at" json:"remote_updated_at"`
	Resolution      string      `db:"resolution" json:"resolution"` // local_wins, remote_wins
	DetectedAt      time.Time   `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}
