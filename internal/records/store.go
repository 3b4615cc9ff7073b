// Package records provides the durable local copy of domain records.
//
// Every write goes through last-writer-wins: a record is stored only when
// its UpdatedAt is not older than what the store already holds, tombstones
// included. All operations run as a single statement or transaction on a
// single-connection SQLite handle, so readers always see their own writes.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/db"
	"github.com/kimhsiao/gymnexus/backend/internal/db/migrations"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// DatabaseName is the file stem of the records database.
const DatabaseName = "records"

const metaLastSyncAt = "last_sync_at"

// Predicate filters records in memory after the table query.
type Predicate func(models.EntityRecord) bool

// Store is the SQLite-backed record store.
type Store struct {
	*db.Repository
	conn *db.DB
}

// Open opens (and migrates) records.db under dataDir.
func Open(dataDir string, opts db.Options) (*Store, error) {
	conn, err := db.Open(dataDir, DatabaseName, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open records database", err)
	}
	if err := db.Migrate(conn.DB, migrations.Records()); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migrate records database", err)
	}
	return &Store{Repository: db.NewRepository(conn.DB), conn: conn}, nil
}

// Close releases cached statements and the database handle.
func (s *Store) Close() error {
	stmtErr := s.Repository.Close()
	if err := s.conn.Close(); err != nil {
		return err
	}
	return stmtErr
}

// storageErr classifies a SQLite failure.
func storageErr(op string, err error) error {
	if db.IsQuotaError(err) {
		logging.Warn("records store out of space", map[string]interface{}{"op": op})
		return apperrors.Wrap(apperrors.ErrQuotaExceeded, op, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

const selectRecord = `SELECT table_name, id, fields, updated_at, deleted FROM entity_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (models.EntityRecord, error) {
	var (
		table     string
		rec       models.EntityRecord
		fields    sql.NullString
		updatedAt int64
		deleted   bool
	)
	if err := row.Scan(&table, &rec.ID, &fields, &updatedAt, &deleted); err != nil {
		return models.EntityRecord{}, err
	}
	rec.Table = models.EntityTable(table)
	rec.UpdatedAt = models.FromMillis(updatedAt)
	rec.Deleted = deleted
	if !deleted && fields.Valid {
		f, err := models.DecodeFields(rec.Table, json.RawMessage(fields.String))
		if err != nil {
			return models.EntityRecord{}, err
		}
		rec.Fields = f
	}
	return rec, nil
}

// Get returns the live record (table, id). Absent and tombstoned records
// are both ErrNotFound.
func (s *Store) Get(ctx context.Context, table models.EntityTable, id string) (models.EntityRecord, error) {
	rec, found, err := s.Lookup(ctx, table, id)
	if err != nil {
		return models.EntityRecord{}, err
	}
	if !found || rec.Deleted {
		return models.EntityRecord{}, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", table, id)
	}
	return rec, nil
}

// Lookup returns whatever the store holds for (table, id), tombstones
// included.
func (s *Store) Lookup(ctx context.Context, table models.EntityTable, id string) (models.EntityRecord, bool, error) {
	row, err := s.QueryRow(ctx, selectRecord+` WHERE table_name = ? AND id = ?`, string(table), id)
	if err != nil {
		return models.EntityRecord{}, false, storageErr("lookup record", err)
	}
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return models.EntityRecord{}, false, nil
	}
	if err != nil {
		return models.EntityRecord{}, false, storageErr("lookup record", err)
	}
	return rec, true, nil
}

// List returns every live record of table ordered by id, filtered by preds.
func (s *Store) List(ctx context.Context, table models.EntityTable, preds ...Predicate) ([]models.EntityRecord, error) {
	if !table.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity table %q", table)
	}
	rows, err := s.Query(ctx, selectRecord+` WHERE table_name = ? AND deleted = 0 ORDER BY id`, string(table))
	if err != nil {
		return nil, storageErr("list records", err)
	}
	return collect(rows, preds)
}

// ListByIndex returns the live records of table whose secondary index
// matches value. Tag lookups are case-insensitive.
func (s *Store) ListByIndex(ctx context.Context, table models.EntityTable, index, value string, preds ...Predicate) ([]models.EntityRecord, error) {
	if index == models.IndexTag {
		value = strings.ToLower(strings.TrimSpace(value))
	}
	query := `SELECT r.table_name, r.id, r.fields, r.updated_at, r.deleted
		FROM entity_index i
		JOIN entity_records r ON r.table_name = i.table_name AND r.id = i.id
		WHERE i.table_name = ? AND i.index_name = ? AND i.value = ? AND r.deleted = 0
		ORDER BY r.id`
	rows, err := s.Query(ctx, query, string(table), index, value)
	if err != nil {
		return nil, storageErr("list records by index", err)
	}
	return collect(rows, preds)
}

func collect(rows *sql.Rows, preds []Predicate) ([]models.EntityRecord, error) {
	defer rows.Close()

	out := []models.EntityRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		if matches(rec, preds) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate records", err)
	}
	return out, nil
}

func matches(rec models.EntityRecord, preds []Predicate) bool {
	for _, p := range preds {
		if !p(rec) {
			return false
		}
	}
	return true
}

// Put stores rec when its UpdatedAt is not older than the stored version.
// A stale write is a silent no-op reported as applied=false.
func (s *Store) Put(ctx context.Context, rec models.EntityRecord) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, apperrors.Wrap(apperrors.ErrValidation, "invalid record", err)
	}
	rec.UpdatedAt = models.Truncate(rec.UpdatedAt)

	var fields sql.NullString
	if !rec.Deleted {
		raw, err := json.Marshal(rec.Fields)
		if err != nil {
			return false, apperrors.Wrap(apperrors.ErrValidation, "encode record fields", err)
		}
		fields = sql.NullString{String: string(raw), Valid: true}
	}

	applied := false
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT updated_at FROM entity_records WHERE table_name = ? AND id = ?`,
			string(rec.Table), rec.ID).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return err
		case models.Millis(rec.UpdatedAt) < existing:
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_records (table_name, id, fields, updated_at, deleted)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (table_name, id) DO UPDATE SET
				fields = excluded.fields,
				updated_at = excluded.updated_at,
				deleted = excluded.deleted`,
			string(rec.Table), rec.ID, fields, models.Millis(rec.UpdatedAt), rec.Deleted)
		if err != nil {
			return err
		}

		if err := writeIndex(ctx, tx, rec); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, storageErr(fmt.Sprintf("put %s %s", rec.Table, rec.ID), err)
	}
	return applied, nil
}

func writeIndex(ctx context.Context, tx *sql.Tx, rec models.EntityRecord) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_index WHERE table_name = ? AND id = ?`,
		string(rec.Table), rec.ID); err != nil {
		return err
	}
	if rec.Deleted {
		return nil
	}
	for index, values := range models.IndexKeys(rec.Fields) {
		for _, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO entity_index (table_name, index_name, value, id) VALUES (?, ?, ?, ?)`,
				string(rec.Table), index, v, rec.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete writes a tombstone for (table, id) at the given time under the
// same last-writer-wins rule as Put.
func (s *Store) Delete(ctx context.Context, table models.EntityTable, id string, at time.Time) (bool, error) {
	return s.Put(ctx, models.Tombstone(table, id, at))
}

// Wipe removes every row of table, tombstones included.
func (s *Store) Wipe(ctx context.Context, table models.EntityTable) error {
	if !table.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown entity table %q", table)
	}
	if _, err := s.Exec(ctx, `DELETE FROM entity_records WHERE table_name = ?`, string(table)); err != nil {
		return storageErr("wipe table", err)
	}
	logging.Info("records table wiped", map[string]interface{}{"table": table})
	return nil
}

// PurgeTombstones drops tombstones older than before and returns how many
// were removed.
func (s *Store) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.Exec(ctx, `DELETE FROM entity_records WHERE deleted = 1 AND updated_at < ?`, models.Millis(before))
	if err != nil {
		return 0, storageErr("purge tombstones", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of live records in table.
func (s *Store) Count(ctx context.Context, table models.EntityTable) (int, error) {
	row, err := s.QueryRow(ctx, `SELECT COUNT(*) FROM entity_records WHERE table_name = ? AND deleted = 0`, string(table))
	if err != nil {
		return 0, storageErr("count records", err)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, storageErr("count records", err)
	}
	return n, nil
}

// =====================================================
// Sync metadata
// =====================================================

// LastSyncAt returns the persisted pull cursor. ok is false before the
// first successful pull.
func (s *Store) LastSyncAt(ctx context.Context) (t time.Time, ok bool, err error) {
	row, err := s.QueryRow(ctx, `SELECT value FROM sync_meta WHERE key = ?`, metaLastSyncAt)
	if err != nil {
		return time.Time{}, false, storageErr("read last sync", err)
	}
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, storageErr("read last sync", err)
	}
	var ms int64
	if _, err := fmt.Sscan(raw, &ms); err != nil {
		return time.Time{}, false, apperrors.Wrap(apperrors.ErrDatabase, "parse last sync", err)
	}
	return models.FromMillis(ms), true, nil
}

// SetLastSyncAt persists the pull cursor.
func (s *Store) SetLastSyncAt(ctx context.Context, t time.Time) error {
	_, err := s.Exec(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		metaLastSyncAt, fmt.Sprint(models.Millis(t)))
	if err != nil {
		return storageErr("write last sync", err)
	}
	return nil
}

// =====================================================
// Conflict log
// =====================================================

// RecordConflict appends to the conflict log.
func (s *Store) RecordConflict(ctx context.Context, c models.ConflictLog) error {
	_, err := s.Exec(ctx, `
		INSERT INTO conflict_log (id, table_name, entity_id, local_updated_at, remote_updated_at, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Table), c.EntityID,
		models.Millis(c.LocalUpdatedAt), models.Millis(c.RemoteUpdatedAt),
		c.Resolution, models.Millis(c.DetectedAt))
	if err != nil {
		return storageErr("record conflict", err)
	}
	return nil
}

// ListConflicts returns the most recent conflicts first.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Query(ctx, `
		SELECT id, table_name, entity_id, local_updated_at, remote_updated_at, resolution, detected_at
		FROM conflict_log ORDER BY detected_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("list conflicts", err)
	}
	defer rows.Close()

	out := []models.ConflictLog{}
	for rows.Next() {
		var (
			c                       models.ConflictLog
			table                   string
			local, remote, detected int64
		)
		if err := rows.Scan(&c.ID, &table, &c.EntityID, &local, &remote, &c.Resolution, &detected); err != nil {
			return nil, storageErr("scan conflict", err)
		}
		c.Table = models.EntityTable(table)
		c.LocalUpdatedAt = models.FromMillis(local)
		c.RemoteUpdatedAt = models.FromMillis(remote)
		c.DetectedAt = models.FromMillis(detected)
		out = append(out, c)
	}
	return out, rows.Err()
}
