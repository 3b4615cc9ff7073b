// Package media provides the bounded on-disk cache for exercise images and
// videos.
//
// Lookups are cache first, then network, then placeholder. Blobs are
// content addressed so two URLs serving the same bytes share one file.
// Cleanup shrinks the cache in two phases: an unconditional age floor,
// then priority and least-recently-used order until the budget is met.
package media

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/db"
	"github.com/kimhsiao/gymnexus/backend/internal/db/migrations"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/telemetry"
)

// DatabaseName is the file stem of the media metadata database.
const DatabaseName = "media"

// Fetcher retrieves the bytes behind a media URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Connectivity reports whether the network is believed reachable.
type Connectivity interface {
	Online() bool
}

// Status is the outcome of a lookup.
type Status string

const (
	StatusHit         Status = "hit"
	StatusFetched     Status = "fetched"
	StatusUnavailable Status = "unavailable"
)

// Handle locates a servable media file.
type Handle struct {
	Key         string           `json:"url"`
	Kind        models.MediaKind `json:"kind"`
	Path        string           `json:"path"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `json:"size_bytes"`
	Placeholder bool             `json:"placeholder,omitempty"`
}

// Lookup is the result of GetOrFetch. Handle is nil when Status is
// StatusUnavailable.
type Lookup struct {
	Status Status
	Handle *Handle
}

// FetchOptions annotate the entry created or touched by a lookup.
type FetchOptions struct {
	Priority models.Priority
	OwnerRef string
}

// Config configures a Cache.
type Config struct {
	// Dir holds media.db, blobs/ and the placeholder.
	Dir string

	// MaxObjectBytes rejects larger downloads (0 = unlimited).
	MaxObjectBytes int64

	// FetchTimeout bounds a single origin fetch.
	FetchTimeout time.Duration

	DB db.Options
}

// Stats summarizes cache contents.
type Stats struct {
	Entries    int              `json:"entries"`
	TotalBytes int64            `json:"total_bytes"`
	ByPriority map[string]int64 `json:"by_priority"`
	ByKind     map[string]int64 `json:"by_kind"`
}

// Cache is the media cache.
type Cache struct {
	*db.Repository
	conn    *db.DB
	cfg     Config
	blobs   *BlobStore
	fetcher Fetcher
	network Connectivity
	clock   clock.Clock

	placeholder string
	group       singleflight.Group

	pinMu sync.Mutex
	pins  map[string]int

	// blobMu orders blob commits against unlinking: writers hold it
	// shared from Put through the metadata insert, unlinkers exclusively.
	blobMu sync.RWMutex

	cleanupMu sync.Mutex
}

// Open opens the cache under cfg.Dir, migrating media.db, rendering the
// placeholder and sweeping blobs orphaned by an interrupted fetch.
func Open(ctx context.Context, cfg Config, fetcher Fetcher, network Connectivity, clk clock.Clock) (*Cache, error) {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}

	conn, err := db.Open(cfg.Dir, DatabaseName, cfg.DB)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open media database", err)
	}
	if err := db.Migrate(conn.DB, migrations.Media()); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migrate media database", err)
	}

	blobs, err := NewBlobStore(filepath.Join(cfg.Dir, "blobs"))
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrInternal, "open blob store", err)
	}
	placeholder, err := ensurePlaceholder(cfg.Dir)
	if err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrInternal, "render placeholder", err)
	}

	c := &Cache{
		Repository:  db.NewRepository(conn.DB),
		conn:        conn,
		cfg:         cfg,
		blobs:       blobs,
		fetcher:     fetcher,
		network:     network,
		clock:       clk,
		placeholder: placeholder,
		pins:        make(map[string]int),
	}
	if err := c.sweepOrphans(ctx); err != nil {
		logging.Error("media orphan sweep failed", err)
	}
	return c, nil
}

// Close releases cached statements and the database handle.
func (c *Cache) Close() error {
	stmtErr := c.Repository.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return stmtErr
}

// Blobs exposes the underlying blob store.
func (c *Cache) Blobs() *BlobStore {
	return c.blobs
}

func storageErr(op string, err error) error {
	if db.IsQuotaError(err) {
		logging.Warn("media cache out of space", map[string]interface{}{"op": op})
		return apperrors.Wrap(apperrors.ErrQuotaExceeded, op, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

// =====================================================
// Lookup
// =====================================================

// GetOrFetch returns the cached media for url, fetching it when missing
// and online. A miss while offline is StatusUnavailable with a nil error.
func (c *Cache) GetOrFetch(ctx context.Context, url string, kind models.MediaKind, opts FetchOptions) (Lookup, error) {
	if url == "" || !kind.Valid() {
		return Lookup{}, apperrors.Newf(apperrors.ErrValidation, "invalid media request %q (%s)", url, kind)
	}

	h, ok, err := c.hit(ctx, url, opts)
	if err != nil {
		return Lookup{}, err
	}
	if ok {
		return Lookup{Status: StatusHit, Handle: h}, nil
	}

	if c.network != nil && !c.network.Online() {
		logging.Debug("media miss while offline", map[string]interface{}{"url": url})
		return Lookup{Status: StatusUnavailable}, nil
	}
	if c.fetcher == nil {
		return Lookup{Status: StatusUnavailable}, nil
	}

	// The shared download outlives any single caller; each caller only
	// stops waiting when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (interface{}, error) {
		return c.fetch(fetchCtx, url, kind, opts)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Lookup{}, apperrors.Wrap(apperrors.ErrTransientNetwork, "media fetch abandoned", ctx.Err())
	}
	if res.Err != nil {
		return Lookup{}, res.Err
	}
	if res.Shared {
		if err := c.touch(ctx, url, opts); err != nil {
			return Lookup{}, err
		}
	}
	return Lookup{Status: StatusFetched, Handle: res.Val.(*Handle)}, nil
}

// Resolve returns the best available handle: cached, freshly fetched, or
// the placeholder image. Offline misses and fetch failures are logged and
// fall back to the placeholder.
func (c *Cache) Resolve(ctx context.Context, url string, kind models.MediaKind, opts FetchOptions) (Handle, error) {
	lookup, err := c.GetOrFetch(ctx, url, kind, opts)
	if err == nil && lookup.Handle != nil {
		return *lookup.Handle, nil
	}
	if err != nil {
		logging.Warn("media unavailable, serving placeholder", map[string]interface{}{
			"url":        url,
			"error":      err.Error(),
			"error_code": string(apperrors.CodeOf(err)),
		})
	}
	return c.Placeholder(url), nil
}

// Placeholder returns the fallback handle for key.
func (c *Cache) Placeholder(key string) Handle {
	return Handle{
		Key:         key,
		Kind:        models.MediaImage,
		Path:        c.placeholder,
		ContentType: "image/png",
		Placeholder: true,
	}
}

const selectEntry = `SELECT url, kind, blob_hash, content_type, size_bytes, created_at, last_accessed_at,
	priority, COALESCE(owner_ref, '') FROM cache_entries`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (models.CacheEntry, error) {
	var (
		e                 models.CacheEntry
		kind              string
		created, accessed int64
	)
	err := row.Scan(&e.Key, &kind, &e.BlobHash, &e.ContentType, &e.SizeBytes, &created, &accessed, &e.Priority, &e.OwnerRef)
	if err != nil {
		return models.CacheEntry{}, err
	}
	e.Kind = models.MediaKind(kind)
	e.CreatedAt = models.FromMillis(created)
	e.LastAccessedAt = models.FromMillis(accessed)
	return e, nil
}

// Entry returns the metadata for url.
func (c *Cache) Entry(ctx context.Context, url string) (models.CacheEntry, error) {
	row, err := c.QueryRow(ctx, selectEntry+` WHERE url = ?`, url)
	if err != nil {
		return models.CacheEntry{}, storageErr("get cache entry", err)
	}
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return models.CacheEntry{}, apperrors.Newf(apperrors.ErrNotFound, "media %s not cached", url)
	}
	if err != nil {
		return models.CacheEntry{}, storageErr("get cache entry", err)
	}
	return e, nil
}

func (c *Cache) hit(ctx context.Context, url string, opts FetchOptions) (*Handle, bool, error) {
	e, err := c.Entry(ctx, url)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !c.blobs.Exists(e.BlobHash) {
		// Blob lost underneath us; drop the entry and refetch.
		logging.Warn("cached media blob missing", map[string]interface{}{"url": url, "blob_hash": e.BlobHash})
		if _, err := c.Exec(ctx, `DELETE FROM cache_entries WHERE url = ?`, url); err != nil {
			return nil, false, storageErr("drop stale cache entry", err)
		}
		return nil, false, nil
	}

	if err := c.touch(ctx, url, opts); err != nil {
		return nil, false, err
	}
	return c.handle(e), true, nil
}

// touch records an access, raising the priority and filling the owner
// from opts.
func (c *Cache) touch(ctx context.Context, url string, opts FetchOptions) error {
	_, err := c.Exec(ctx, `
		UPDATE cache_entries
		SET last_accessed_at = ?, priority = MAX(priority, ?), owner_ref = COALESCE(owner_ref, ?)
		WHERE url = ?`,
		models.Millis(c.clock.Now()), int(opts.Priority), nullString(opts.OwnerRef), url)
	if err != nil {
		return storageErr("touch cache entry", err)
	}
	return nil
}

func (c *Cache) handle(e models.CacheEntry) *Handle {
	return &Handle{
		Key:         e.Key,
		Kind:        e.Kind,
		Path:        c.blobs.Path(e.BlobHash),
		ContentType: e.ContentType,
		SizeBytes:   e.SizeBytes,
	}
}

func (c *Cache) fetch(ctx context.Context, url string, kind models.MediaKind, opts FetchOptions) (h *Handle, err error) {
	c.pin(url)
	defer c.unpin(url)

	ctx, span := telemetry.StartSpan(ctx, "media.fetch",
		attribute.String("media.url", url), attribute.String("media.kind", string(kind)))
	defer func() { telemetry.End(span, err) }()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	rc, err := c.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	c.blobMu.RLock()
	defer c.blobMu.RUnlock()

	head := make([]byte, sniffLen)
	hash, size, n, err := c.blobs.Put(rc, c.cfg.MaxObjectBytes, head)
	if err != nil {
		if fetchCtx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransientNetwork, "media download interrupted", err)
		}
		return nil, err
	}

	contentType, err := detectContentType(head[:n], kind)
	if err != nil {
		c.unlinkIfUnreferencedLocked(ctx, hash)
		return nil, err
	}

	now := models.Millis(c.clock.Now())
	_, err = c.Exec(ctx, `
		INSERT INTO cache_entries (url, kind, blob_hash, content_type, size_bytes, created_at, last_accessed_at, priority, owner_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			kind = excluded.kind,
			blob_hash = excluded.blob_hash,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes,
			last_accessed_at = excluded.last_accessed_at,
			priority = MAX(cache_entries.priority, excluded.priority),
			owner_ref = COALESCE(cache_entries.owner_ref, excluded.owner_ref)`,
		url, string(kind), hash, contentType, size, now, now, int(opts.Priority), nullString(opts.OwnerRef))
	if err != nil {
		c.unlinkIfUnreferencedLocked(ctx, hash)
		return nil, storageErr("record cache entry", err)
	}

	logging.Info("media cached", map[string]interface{}{
		"url": url, "kind": kind, "size_bytes": size, "blob_hash": hash, "priority": opts.Priority.String(),
	})
	return &Handle{Key: url, Kind: kind, Path: c.blobs.Path(hash), ContentType: contentType, SizeBytes: size}, nil
}

// unlinkIfUnreferencedLocked removes a just-written blob nothing points
// at. The caller holds blobMu shared.
func (c *Cache) unlinkIfUnreferencedLocked(ctx context.Context, hash string) {
	refs, err := c.references(ctx, hash)
	if err == nil && refs == 0 {
		c.blobs.Delete(hash)
	}
}

func (c *Cache) references(ctx context.Context, hash string) (int, error) {
	row, err := c.QueryRow(ctx, `SELECT COUNT(*) FROM cache_entries WHERE blob_hash = ?`, hash)
	if err != nil {
		return 0, err
	}
	var n int
	err = row.Scan(&n)
	return n, err
}

// =====================================================
// In-flight pins
// =====================================================

func (c *Cache) pin(key string) {
	c.pinMu.Lock()
	c.pins[key]++
	c.pinMu.Unlock()
}

func (c *Cache) unpin(key string) {
	c.pinMu.Lock()
	if c.pins[key]--; c.pins[key] <= 0 {
		delete(c.pins, key)
	}
	c.pinMu.Unlock()
}

func (c *Cache) isPinned(key string) bool {
	c.pinMu.Lock()
	defer c.pinMu.Unlock()
	return c.pins[key] > 0
}

// =====================================================
// Eviction
// =====================================================

// Entries returns every cache entry.
func (c *Cache) Entries(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := c.Query(ctx, selectEntry+` ORDER BY url`)
	if err != nil {
		return nil, storageErr("list cache entries", err)
	}
	defer rows.Close()

	out := []models.CacheEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("scan cache entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup runs one eviction pass. Entries pinned by an in-flight fetch
// and entries touched after the pass was planned are never removed.
func (c *Cache) Cleanup(ctx context.Context, opts CleanupOptions) (report CleanupReport, err error) {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "media.cleanup",
		attribute.Int64("media.budget_bytes", opts.BudgetBytes))
	defer func() { telemetry.End(span, err) }()

	entries, err := c.Entries(ctx)
	if err != nil {
		return CleanupReport{}, err
	}
	marked, report := planCleanup(entries, opts, c.clock.Now(), c.isPinned)

	hashes := map[string]bool{}
	err = c.InTx(ctx, func(tx *sql.Tx) error {
		for _, e := range marked {
			deleted := false
			if !c.isPinned(e.Key) {
				res, err := tx.ExecContext(ctx,
					`DELETE FROM cache_entries WHERE url = ? AND last_accessed_at = ?`,
					e.Key, models.Millis(e.LastAccessedAt))
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				deleted = n > 0
			}
			if !deleted {
				report.DeletedCount--
				report.DeletedBytes -= e.SizeBytes
				report.ResidentBytes += e.SizeBytes
				report.ProtectedBytes += e.SizeBytes
				continue
			}
			hashes[e.BlobHash] = true
		}
		return nil
	})
	if err != nil {
		return CleanupReport{}, storageErr("evict cache entries", err)
	}
	report.ExcessBytes = opts.excess(report.ResidentBytes)

	c.unlinkUnreferenced(ctx, hashes)

	fields := map[string]interface{}{
		"deleted_count":   report.DeletedCount,
		"deleted_bytes":   report.DeletedBytes,
		"aged_out_count":  report.AgedOutCount,
		"resident_bytes":  report.ResidentBytes,
		"protected_bytes": report.ProtectedBytes,
		"budget_bytes":    opts.BudgetBytes,
	}
	if report.ExcessBytes > 0 {
		fields["excess_bytes"] = report.ExcessBytes
		logging.Warn("media cache above budget after cleanup, remaining entries are protected", fields)
	} else {
		logging.Info("media cache cleanup completed", fields)
	}
	return report, nil
}

func (c *Cache) unlinkUnreferenced(ctx context.Context, hashes map[string]bool) {
	if len(hashes) == 0 {
		return
	}
	c.blobMu.Lock()
	defer c.blobMu.Unlock()

	for hash := range hashes {
		refs, err := c.references(ctx, hash)
		if err != nil {
			logging.Error("count blob references", err, map[string]interface{}{"blob_hash": hash})
			continue
		}
		if refs > 0 {
			continue
		}
		if err := c.blobs.Delete(hash); err != nil {
			logging.Error("delete blob", err, map[string]interface{}{"blob_hash": hash})
		}
	}
}

// Purge removes the entry for url. Purging an uncached url is a no-op.
func (c *Cache) Purge(ctx context.Context, url string) error {
	e, err := c.Entry(ctx, url)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := c.Exec(ctx, `DELETE FROM cache_entries WHERE url = ?`, url); err != nil {
		return storageErr("purge cache entry", err)
	}
	c.unlinkUnreferenced(ctx, map[string]bool{e.BlobHash: true})
	return nil
}

// PurgeOwner removes every entry owned by ownerRef and returns how many.
func (c *Cache) PurgeOwner(ctx context.Context, ownerRef string) (int, error) {
	if ownerRef == "" {
		return 0, nil
	}
	rows, err := c.Query(ctx, `SELECT url, blob_hash FROM cache_entries WHERE owner_ref = ?`, ownerRef)
	if err != nil {
		return 0, storageErr("list owner entries", err)
	}
	hashes := map[string]bool{}
	count := 0
	for rows.Next() {
		var url, hash string
		if err := rows.Scan(&url, &hash); err != nil {
			rows.Close()
			return 0, storageErr("scan owner entry", err)
		}
		hashes[hash] = true
		count++
	}
	rows.Close()
	if count == 0 {
		return 0, nil
	}

	if _, err := c.Exec(ctx, `DELETE FROM cache_entries WHERE owner_ref = ?`, ownerRef); err != nil {
		return 0, storageErr("purge owner entries", err)
	}
	c.unlinkUnreferenced(ctx, hashes)
	logging.Info("media purged for owner", map[string]interface{}{"owner_ref": ownerRef, "count": count})
	return count, nil
}

// Stats summarizes the cache.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByPriority: map[string]int64{}, ByKind: map[string]int64{}}
	for _, e := range entries {
		s.Entries++
		s.TotalBytes += e.SizeBytes
		s.ByPriority[e.Priority.String()] += e.SizeBytes
		s.ByKind[string(e.Kind)] += e.SizeBytes
	}
	return s, nil
}

// sweepOrphans removes blobs no entry references and temp files left by
// an interrupted write. It runs before any fetch can be in flight.
func (c *Cache) sweepOrphans(ctx context.Context) error {
	hashes, temps, err := c.blobs.List()
	if err != nil {
		return err
	}
	for _, tmp := range temps {
		if err := removeFile(tmp); err != nil {
			return err
		}
	}

	orphans := 0
	for _, hash := range hashes {
		refs, err := c.references(ctx, hash)
		if err != nil {
			return fmt.Errorf("count blob references: %w", err)
		}
		if refs == 0 {
			if err := c.blobs.Delete(hash); err != nil {
				return err
			}
			orphans++
		}
	}
	if orphans > 0 || len(temps) > 0 {
		logging.Info("media orphans swept", map[string]interface{}{"blobs": orphans, "temp_files": len(temps)})
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
