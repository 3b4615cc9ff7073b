// Package queue provides the durable mutation queue for offline writes.
//
// Mutations are stored in their own SQLite database in enqueue order.
// A mutation leaves the queue only through Ack or Discard; failures keep
// it in place with exponential backoff until it is dead-lettered.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/db"
	"github.com/kimhsiao/gymnexus/backend/internal/db/migrations"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/uuid"
)

// DatabaseName is the file stem of the queue database.
const DatabaseName = "queue"

// Config tunes retry behavior.
type Config struct {
	// MaxAttempts is the number of failed attempts before a mutation is
	// dead-lettered.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure; each further
	// failure doubles it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxSize caps the number of queued mutations (0 = unlimited).
	MaxSize int
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
	}
}

// Stats summarizes queue contents.
type Stats struct {
	Pending  int `json:"pending"`
	Deferred int `json:"deferred"`
	Dead     int `json:"dead"`
	Total    int `json:"total"`
}

// Queue is the SQLite-backed mutation queue.
type Queue struct {
	*db.Repository
	conn  *db.DB
	cfg   Config
	clock clock.Clock
}

// Open opens (and migrates) queue.db under dataDir.
func Open(dataDir string, opts db.Options, cfg Config, clk clock.Clock) (*Queue, error) {
	conn, err := db.Open(dataDir, DatabaseName, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open queue database", err)
	}
	if err := db.Migrate(conn.DB, migrations.Queue()); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migrate queue database", err)
	}

	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Queue{Repository: db.NewRepository(conn.DB), conn: conn, cfg: cfg, clock: clk}, nil
}

// Close releases cached statements and the database handle.
func (q *Queue) Close() error {
	stmtErr := q.Repository.Close()
	if err := q.conn.Close(); err != nil {
		return err
	}
	return stmtErr
}

// Config returns the effective retry policy.
func (q *Queue) Config() Config {
	return q.cfg
}

func storageErr(op string, err error) error {
	if db.IsQuotaError(err) {
		return apperrors.Wrap(apperrors.ErrQuotaExceeded, op, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

// Enqueue appends m, assigning its ID, Seq and timestamps.
func (q *Queue) Enqueue(ctx context.Context, m models.QueuedMutation) (models.QueuedMutation, error) {
	if !m.Table.Valid() || !m.Op.Valid() || m.EntityID == "" {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrValidation,
			"invalid mutation %s %s/%s", m.Op, m.Table, m.EntityID)
	}

	if q.cfg.MaxSize > 0 {
		total, err := q.count(ctx, `SELECT COUNT(*) FROM mutations`)
		if err != nil {
			return models.QueuedMutation{}, err
		}
		if total >= q.cfg.MaxSize {
			return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrQuotaExceeded,
				"queue is full (max size: %d)", q.cfg.MaxSize)
		}
	}

	now := models.Truncate(q.clock.Now())
	m.ID = models.UUID(uuid.New())
	m.EnqueuedAt = now
	m.NextAttemptAt = now
	m.Attempts = 0
	m.LastError = ""
	m.Status = models.MutationPending
	if len(m.Payload) == 0 {
		m.Payload = []byte("{}")
	}

	res, err := q.Exec(ctx, `
		INSERT INTO mutations (id, table_name, entity_id, op, payload, enqueued_at, attempts, next_attempt_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		m.ID, string(m.Table), m.EntityID, string(m.Op), string(m.Payload),
		models.Millis(m.EnqueuedAt), models.Millis(m.NextAttemptAt), string(m.Status))
	if err != nil {
		return models.QueuedMutation{}, storageErr("enqueue mutation", err)
	}
	m.Seq, _ = res.LastInsertId()

	logging.Debug("mutation enqueued", map[string]interface{}{
		"id": m.ID, "seq": m.Seq, "table": m.Table, "entity_id": m.EntityID, "op": m.Op,
	})
	return m, nil
}

const selectMutation = `SELECT seq, id, table_name, entity_id, op, payload, enqueued_at, attempts,
	COALESCE(last_error, ''), next_attempt_at, status FROM mutations`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMutation(row rowScanner) (models.QueuedMutation, error) {
	var (
		m                       models.QueuedMutation
		table, op, status       string
		payload                 string
		enqueuedAt, nextAttempt int64
	)
	err := row.Scan(&m.Seq, &m.ID, &table, &m.EntityID, &op, &payload, &enqueuedAt,
		&m.Attempts, &m.LastError, &nextAttempt, &status)
	if err != nil {
		return models.QueuedMutation{}, err
	}
	m.Table = models.EntityTable(table)
	m.Op = models.MutationOp(op)
	m.Status = models.MutationStatus(status)
	m.Payload = []byte(payload)
	m.EnqueuedAt = models.FromMillis(enqueuedAt)
	m.NextAttemptAt = models.FromMillis(nextAttempt)
	return m, nil
}

func collect(rows *sql.Rows) ([]models.QueuedMutation, error) {
	defer rows.Close()
	out := []models.QueuedMutation{}
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, storageErr("scan mutation", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate mutations", err)
	}
	return out, nil
}

// Get returns the mutation with id.
func (q *Queue) Get(ctx context.Context, id models.UUID) (models.QueuedMutation, error) {
	row, err := q.QueryRow(ctx, selectMutation+` WHERE id = ?`, id)
	if err != nil {
		return models.QueuedMutation{}, storageErr("get mutation", err)
	}
	m, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrNotFound, "mutation %s not found", id)
	}
	if err != nil {
		return models.QueuedMutation{}, storageErr("get mutation", err)
	}
	return m, nil
}

// PeekBatch returns up to maxN pending mutations of table in enqueue
// order, including those still waiting out a backoff. Callers check
// readiness with QueuedMutation.Ready.
func (q *Queue) PeekBatch(ctx context.Context, table models.EntityTable, maxN int) ([]models.QueuedMutation, error) {
	if maxN <= 0 {
		maxN = 100
	}
	rows, err := q.Query(ctx, selectMutation+` WHERE table_name = ? AND status = 'pending' ORDER BY seq LIMIT ?`,
		string(table), maxN)
	if err != nil {
		return nil, storageErr("peek mutations", err)
	}
	return collect(rows)
}

// Ack removes a replayed mutation. Acknowledging an unknown id is a no-op.
func (q *Queue) Ack(ctx context.Context, id models.UUID) error {
	res, err := q.Exec(ctx, `DELETE FROM mutations WHERE id = ?`, id)
	if err != nil {
		return storageErr("ack mutation", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Debug("mutation acked", map[string]interface{}{"id": id})
	}
	return nil
}

// Fail records a failed attempt. The mutation is rescheduled with
// exponential backoff, or dead-lettered once it has used up MaxAttempts.
func (q *Queue) Fail(ctx context.Context, id models.UUID, cause error) (models.QueuedMutation, error) {
	var out models.QueuedMutation
	err := q.InTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMutation(tx.QueryRowContext(ctx, selectMutation+` WHERE id = ?`, id))
		if err != nil {
			return err
		}

		now := models.Truncate(q.clock.Now())
		m.Attempts++
		m.LastError = errString(cause)
		if m.Attempts >= q.cfg.MaxAttempts {
			m.Status = models.MutationDead
			m.NextAttemptAt = now
		} else {
			m.NextAttemptAt = now.Add(q.backoffFor(m.Attempts))
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE mutations SET attempts = ?, last_error = ?, next_attempt_at = ?, status = ? WHERE id = ?`,
			m.Attempts, m.LastError, models.Millis(m.NextAttemptAt), string(m.Status), id)
		out = m
		return err
	})
	if err == sql.ErrNoRows {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrNotFound, "mutation %s not found", id)
	}
	if err != nil {
		return models.QueuedMutation{}, storageErr("fail mutation", err)
	}

	ctxFields := map[string]interface{}{
		"id": id, "table": out.Table, "entity_id": out.EntityID,
		"attempts": out.Attempts, "max_attempts": q.cfg.MaxAttempts,
	}
	if out.Status == models.MutationDead {
		logging.Warn("mutation dead-lettered after max attempts", ctxFields)
	} else {
		ctxFields["next_attempt_at"] = out.NextAttemptAt
		logging.Info("mutation failed, retry scheduled", ctxFields)
	}
	return out, nil
}

// DeadLetter moves a mutation straight to dead-letter, for rejections no
// retry can fix.
func (q *Queue) DeadLetter(ctx context.Context, id models.UUID, cause error) (models.QueuedMutation, error) {
	now := models.Millis(q.clock.Now())
	res, err := q.Exec(ctx,
		`UPDATE mutations SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, status = 'dead' WHERE id = ?`,
		errString(cause), now, id)
	if err != nil {
		return models.QueuedMutation{}, storageErr("dead-letter mutation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrNotFound, "mutation %s not found", id)
	}
	m, err := q.Get(ctx, id)
	if err != nil {
		return models.QueuedMutation{}, err
	}
	logging.Warn("mutation dead-lettered", map[string]interface{}{
		"id": id, "table": m.Table, "entity_id": m.EntityID, "error": m.LastError,
	})
	return m, nil
}

// DeadLetters lists dead-lettered mutations in enqueue order.
func (q *Queue) DeadLetters(ctx context.Context) ([]models.QueuedMutation, error) {
	rows, err := q.Query(ctx, selectMutation+` WHERE status = 'dead' ORDER BY seq`)
	if err != nil {
		return nil, storageErr("list dead letters", err)
	}
	return collect(rows)
}

// DeadEntities returns the (table, entity) pairs with a dead-lettered
// mutation, keyed "table/entity_id".
func (q *Queue) DeadEntities(ctx context.Context) (map[string]bool, error) {
	rows, err := q.Query(ctx, `SELECT DISTINCT table_name, entity_id FROM mutations WHERE status = 'dead'`)
	if err != nil {
		return nil, storageErr("list dead entities", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var table, entity string
		if err := rows.Scan(&table, &entity); err != nil {
			return nil, storageErr("scan dead entity", err)
		}
		out[EntityKey(models.EntityTable(table), entity)] = true
	}
	return out, rows.Err()
}

// EntityKey is the key format used by DeadEntities.
func EntityKey(table models.EntityTable, entityID string) string {
	return string(table) + "/" + entityID
}

// Retry returns a dead-lettered mutation to pending with a fresh attempt
// budget. It keeps its original position in the queue.
func (q *Queue) Retry(ctx context.Context, id models.UUID) (models.QueuedMutation, error) {
	now := models.Millis(q.clock.Now())
	res, err := q.Exec(ctx,
		`UPDATE mutations SET status = 'pending', attempts = 0, last_error = NULL, next_attempt_at = ?
		 WHERE id = ? AND status = 'dead'`, now, id)
	if err != nil {
		return models.QueuedMutation{}, storageErr("retry mutation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.QueuedMutation{}, apperrors.Newf(apperrors.ErrNotFound, "dead-lettered mutation %s not found", id)
	}
	logging.Info("dead-lettered mutation reset for retry", map[string]interface{}{"id": id})
	return q.Get(ctx, id)
}

// RetryAll resets every dead-lettered mutation and returns how many.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	now := models.Millis(q.clock.Now())
	res, err := q.Exec(ctx,
		`UPDATE mutations SET status = 'pending', attempts = 0, last_error = NULL, next_attempt_at = ?
		 WHERE status = 'dead'`, now)
	if err != nil {
		return 0, storageErr("retry all mutations", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("dead-lettered mutations reset for retry", map[string]interface{}{"count": n})
	}
	return int(n), nil
}

// Discard drops a dead-lettered mutation without replaying it.
func (q *Queue) Discard(ctx context.Context, id models.UUID) error {
	res, err := q.Exec(ctx, `DELETE FROM mutations WHERE id = ? AND status = 'dead'`, id)
	if err != nil {
		return storageErr("discard mutation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "dead-lettered mutation %s not found", id)
	}
	logging.Info("dead-lettered mutation discarded", map[string]interface{}{"id": id})
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	now := models.Millis(q.clock.Now())
	row, err := q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' AND next_attempt_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'dead' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM mutations`, now)
	if err != nil {
		return Stats{}, storageErr("queue stats", err)
	}
	var s Stats
	if err := row.Scan(&s.Pending, &s.Deferred, &s.Dead, &s.Total); err != nil {
		return Stats{}, storageErr("queue stats", err)
	}
	return s, nil
}

// PendingCount returns the number of mutations awaiting replay.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM mutations WHERE status = 'pending'`)
}

// DeadLetterCount returns the number of dead-lettered mutations.
func (q *Queue) DeadLetterCount(ctx context.Context) (int, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM mutations WHERE status = 'dead'`)
}

func (q *Queue) count(ctx context.Context, query string) (int, error) {
	row, err := q.QueryRow(ctx, query)
	if err != nil {
		return 0, storageErr("count mutations", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, storageErr("count mutations", err)
	}
	return n, nil
}

// backoffFor returns the delay after the given number of failed attempts:
// InitialBackoff * 2^(attempts-1), capped at MaxBackoff.
func (q *Queue) backoffFor(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return fmt.Sprint(err)
}
