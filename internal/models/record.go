package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityRecord is a domain row keyed by (Table, ID).
//
// UpdatedAt drives last-writer-wins: the store only overwrites a row with
// a record whose UpdatedAt is not older. Deleted marks a tombstone, which
// keeps the delete time so a stale pull cannot resurrect the row.
type EntityRecord struct {
	ID        string
	Table     EntityTable
	Fields    Fields
	UpdatedAt time.Time
	Deleted   bool
}

// NewRecord builds a live record from typed fields.
func NewRecord(id string, fields Fields, updatedAt time.Time) EntityRecord {
	return EntityRecord{
		ID:        id,
		Table:     fields.Table(),
		Fields:    fields,
		UpdatedAt: Truncate(updatedAt),
	}
}

// Tombstone builds a deletion marker for (table, id).
func Tombstone(table EntityTable, id string, at time.Time) EntityRecord {
	return EntityRecord{ID: id, Table: table, UpdatedAt: Truncate(at), Deleted: true}
}

// Validate checks the record shape: a known table, an id, a timestamp after
// the epoch, and fields that belong to the same table (tombstones carry
// none).
func (r EntityRecord) Validate() error {
	if !r.Table.Valid() {
		return fmt.Errorf("unknown entity table %q", r.Table)
	}
	if r.ID == "" {
		return fmt.Errorf("%s record id is required", r.Table)
	}
	if Millis(r.UpdatedAt) <= 0 {
		return fmt.Errorf("%s record %s has no valid updated_at", r.Table, r.ID)
	}
	if r.Deleted {
		return nil
	}
	if r.Fields == nil {
		return fmt.Errorf("%s record %s has no fields", r.Table, r.ID)
	}
	if r.Fields.Table() != r.Table {
		return fmt.Errorf("%s record %s carries %s fields", r.Table, r.ID, r.Fields.Table())
	}
	return r.Fields.Validate()
}

// NewerThan reports whether r should win over other under last-writer-wins.
// Ties go to r, the incoming write.
func (r EntityRecord) NewerThan(other EntityRecord) bool {
	return Millis(r.UpdatedAt) >= Millis(other.UpdatedAt)
}

type recordJSON struct {
	ID        string          `json:"id"`
	Table     EntityTable     `json:"table"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r EntityRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{ID: r.ID, Table: r.Table, UpdatedAt: r.UpdatedAt, Deleted: r.Deleted}
	if r.Fields != nil {
		raw, err := json.Marshal(r.Fields)
		if err != nil {
			return nil, err
		}
		out.Fields = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler, decoding Fields by table.
func (r *EntityRecord) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.ID = in.ID
	r.Table = in.Table
	r.UpdatedAt = Truncate(in.UpdatedAt)
	r.Deleted = in.Deleted
	r.Fields = nil
	if len(in.Fields) > 0 && string(in.Fields) != "null" {
		f, err := DecodeFields(in.Table, in.Fields)
		if err != nil {
			return err
		}
		r.Fields = f
	}
	return nil
}
