// Package main builds libgymnexus, the shared library a mobile shell
// embeds instead of talking to gymnexusd over HTTP. Every call takes
// and returns JSON strings.
//
// Build: go build -buildmode=c-shared -o libgymnexus.so ./cmd/mobile
package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/kimhsiao/gymnexus/backend/internal/app"
	"github.com/kimhsiao/gymnexus/backend/internal/config"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/media"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
)

// bridge holds the single embedded App.
type bridge struct {
	mu      sync.Mutex
	app     *app.App
	cancel  context.CancelFunc
	lastErr string
}

var core bridge

type writePayload struct {
	ID     string          `json:"id,omitempty"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

type errorJSON struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (b *bridge) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.lastErr = ""
		return
	}
	data, _ := json.Marshal(errorJSON{Code: string(apperrors.CodeOf(err)), Message: err.Error()})
	b.lastErr = string(data)
}

func (b *bridge) lastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *bridge) current() (*app.App, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return nil, apperrors.New(apperrors.ErrUnavailable, "core not initialized")
	}
	return b.app, nil
}

// start loads configuration from configPath (may be empty) and dataDir,
// then builds and starts the App. A second call is a no-op.
func (b *bridge) start(configPath, dataDir string, opts ...app.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		cancel()
		return err
	}
	a.Start(ctx)
	b.app, b.cancel = a, cancel
	return nil
}

// shutdown stops background work and closes every store.
func (b *bridge) shutdown() error {
	b.mu.Lock()
	a, cancel := b.app, b.cancel
	b.app, b.cancel = nil, nil
	b.mu.Unlock()
	if a == nil {
		return nil
	}
	defer cancel()
	return a.Close(context.Background())
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "encode result", err)
	}
	return string(data), nil
}

// submit applies a local write and queues it for upload.
func (b *bridge) submit(table, op, payload string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	t, err := models.ParseTable(table)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "invalid table", err)
	}
	mop := models.MutationOp(op)
	if !mop.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown op %q", op)
	}

	var p writePayload
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", apperrors.Wrap(apperrors.ErrValidation, "invalid payload", err)
		}
	}
	in := syncpkg.Payload{ID: p.ID}
	if mop != models.OpDelete {
		if len(p.Fields) == 0 {
			return "", apperrors.New(apperrors.ErrValidation, "fields is required")
		}
		if in.Fields, err = models.DecodeFields(t, p.Fields); err != nil {
			return "", apperrors.Wrap(apperrors.ErrValidation, "invalid fields", err)
		}
	}

	m, err := a.Sync.SubmitMutation(context.Background(), t, mop, in)
	if err != nil {
		return "", err
	}
	return marshal(m)
}

func (b *bridge) get(table, id string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	t, err := models.ParseTable(table)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "invalid table", err)
	}
	rec, err := a.Records.Get(context.Background(), t, id)
	if err != nil {
		return "", err
	}
	return marshal(rec)
}

// list returns every live row of table, or those whose index equals
// value when index is set.
func (b *bridge) list(table, index, value string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	t, err := models.ParseTable(table)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "invalid table", err)
	}
	var recs []models.EntityRecord
	if index != "" {
		recs, err = a.Records.ListByIndex(context.Background(), t, index, value)
	} else {
		recs, err = a.Records.List(context.Background(), t)
	}
	if err != nil {
		return "", err
	}
	if recs == nil {
		recs = []models.EntityRecord{}
	}
	return marshal(recs)
}

func (b *bridge) syncNow() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	res, err := a.Scheduler.SyncNow(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(res)
}

func (b *bridge) syncState() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	return marshal(a.Sync.State())
}

// reportNetwork feeds an OS connectivity callback into the monitor.
func (b *bridge) reportNetwork(online bool) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	a.Network.Report(online)
	return nil
}

// resolveMedia returns a local file handle for url, falling back to the
// placeholder when the media cannot be produced.
func (b *bridge) resolveMedia(url, kind, priority, owner string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	k := models.MediaKind(kind)
	if k == "" {
		k = models.MediaImage
	}
	if !k.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown media kind %q", kind)
	}
	p, err := models.ParsePriority(priority)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "invalid priority", err)
	}
	h, err := a.Media.Resolve(context.Background(), url, k, media.FetchOptions{Priority: p, OwnerRef: owner})
	if err != nil {
		return "", err
	}
	return marshal(h)
}

func (b *bridge) cleanupMedia() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	report, err := a.Scheduler.CleanupNow(context.Background())
	if err != nil {
		return "", err
	}
	return marshal(report)
}

// Required by -buildmode=c-shared; never runs inside the host app.
func main() {}
