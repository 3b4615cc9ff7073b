// Package remotetest provides an in-memory remote.Service with failure
// injection, and an http.Handler serving it over the REST protocol.
package remotetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
)

// Op names a Service method.
type Op string

const (
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Call is one recorded Service invocation.
type Call struct {
	Op    Op
	Table models.EntityTable
	ID    string
}

// Fake is an in-memory remote.Service.
type Fake struct {
	mu      sync.Mutex
	records map[models.EntityTable]map[string]models.EntityRecord
	calls   []Call
	inject  func(Call) error

	// Now stamps tombstones written by Delete.
	Now func() time.Time
}

var _ remote.Service = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		records: make(map[models.EntityTable]map[string]models.EntityRecord),
		Now:     time.Now,
	}
}

// Inject installs fn, consulted before every call. A non-nil return
// fails the call without touching state. Pass nil to clear.
func (f *Fake) Inject(fn func(Call) error) {
	f.mu.Lock()
	f.inject = fn
	f.mu.Unlock()
}

// FailOnce fails the next call matching op, table and id with err.
// An empty table or id matches any.
func (f *Fake) FailOnce(op Op, table models.EntityTable, id string, err error) {
	var once sync.Once
	f.Inject(func(c Call) error {
		if c.Op != op || (table != "" && c.Table != table) || (id != "" && c.ID != id) {
			return nil
		}
		var out error
		once.Do(func() { out = err })
		return out
	})
}

// Seed stores rec as if another device had written it.
func (f *Fake) Seed(rec models.EntityRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableLocked(rec.Table)[rec.ID] = rec
}

// Record returns the stored record for (table, id).
func (f *Fake) Record(table models.EntityTable, id string) (models.EntityRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[table][id]
	return rec, ok
}

// Calls returns every call recorded so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf returns the recorded calls of op.
func (f *Fake) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) tableLocked(table models.EntityTable) map[string]models.EntityRecord {
	t, ok := f.records[table]
	if !ok {
		t = make(map[string]models.EntityRecord)
		f.records[table] = t
	}
	return t
}

// begin records c and runs the injector. The caller holds mu.
func (f *Fake) beginLocked(ctx context.Context, c Call) error {
	f.calls = append(f.calls, c)
	if err := ctx.Err(); err != nil {
		return &remote.Error{Kind: remote.KindTransient, Message: "context done", Err: err}
	}
	if f.inject != nil {
		return f.inject(c)
	}
	return nil
}

// List implements remote.Service.
func (f *Fake) List(ctx context.Context, table models.EntityTable, since time.Time) ([]models.EntityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginLocked(ctx, Call{Op: OpList, Table: table}); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, remote.NewError(remote.KindValidation, "unknown table %q", table)
	}

	out := []models.EntityRecord{}
	for _, rec := range f.records[table] {
		if since.IsZero() || !rec.UpdatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create implements remote.Service.
func (f *Fake) Create(ctx context.Context, rec models.EntityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginLocked(ctx, Call{Op: OpCreate, Table: rec.Table, ID: rec.ID}); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil || rec.Deleted {
		return remote.NewError(remote.KindValidation, "invalid record %s/%s: %v", rec.Table, rec.ID, err)
	}
	t := f.tableLocked(rec.Table)
	if existing, ok := t[rec.ID]; ok && !existing.Deleted {
		return remote.NewError(remote.KindConflict, "%s/%s already exists", rec.Table, rec.ID)
	}
	t[rec.ID] = rec
	return nil
}

// Update implements remote.Service.
func (f *Fake) Update(ctx context.Context, rec models.EntityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginLocked(ctx, Call{Op: OpUpdate, Table: rec.Table, ID: rec.ID}); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil || rec.Deleted {
		return remote.NewError(remote.KindValidation, "invalid record %s/%s: %v", rec.Table, rec.ID, err)
	}
	t := f.tableLocked(rec.Table)
	existing, ok := t[rec.ID]
	if !ok || existing.Deleted {
		return remote.NewError(remote.KindNotFound, "%s/%s not found", rec.Table, rec.ID)
	}
	if rec.NewerThan(existing) {
		t[rec.ID] = rec
	}
	return nil
}

// Delete implements remote.Service.
func (f *Fake) Delete(ctx context.Context, table models.EntityTable, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.beginLocked(ctx, Call{Op: OpDelete, Table: table, ID: id}); err != nil {
		return err
	}
	t := f.tableLocked(table)
	existing, ok := t[id]
	if !ok || existing.Deleted {
		return remote.NewError(remote.KindNotFound, "%s/%s not found", table, id)
	}
	t[id] = models.Tombstone(table, id, f.Now())
	return nil
}
