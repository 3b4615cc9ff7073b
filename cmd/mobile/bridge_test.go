package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/kimhsiao/gymnexus/backend/internal/app"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote/remotetest"
)

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	data, ok := f[url]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

var gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func startBridge(t *testing.T) (*bridge, *remotetest.Fake) {
	t.Helper()
	fake := remotetest.New()
	b := &bridge{}
	err := b.start("", t.TempDir(),
		app.WithRemote(fake),
		app.WithFetcher(staticFetcher{"https://cdn.example.com/lunge.gif": gifBytes}))
	if err != nil {
		t.Fatalf("start() error = %v", err)
	}
	t.Cleanup(func() { b.shutdown() })
	return b, fake
}

func TestBridge_NotInitialized(t *testing.T) {
	b := &bridge{}
	_, err := b.syncState()
	if !apperrors.Is(err, apperrors.ErrUnavailable) {
		t.Errorf("syncState() error = %v, want ErrUnavailable", err)
	}
	if err := b.shutdown(); err != nil {
		t.Errorf("shutdown() before start error = %v", err)
	}
}

func TestBridge_StartTwice(t *testing.T) {
	b, _ := startBridge(t)
	first := b.app
	if err := b.start("", t.TempDir()); err != nil {
		t.Fatalf("second start() error = %v", err)
	}
	if b.app != first {
		t.Error("second start() should keep the running App")
	}
}

func TestBridge_SubmitGetListSync(t *testing.T) {
	b, fake := startBridge(t)

	out, err := b.submit("exercises", "create", `{"id":"e1","fields":{"name":"Lunge","tags":["legs"]}}`)
	if err != nil {
		t.Fatalf("submit() error = %v", err)
	}
	var m models.QueuedMutation
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatal(err)
	}
	if m.EntityID != "e1" || m.Op != models.OpCreate {
		t.Errorf("mutation = %+v", m)
	}

	out, err = b.get("exercises", "e1")
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}
	if !strings.Contains(out, `"Lunge"`) {
		t.Errorf("get() = %s", out)
	}

	out, err = b.list("exercises", models.IndexTag, "legs")
	if err != nil {
		t.Fatalf("list() error = %v", err)
	}
	var recs []models.EntityRecord
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("list() len = %d, want 1", len(recs))
	}

	if _, err := b.syncNow(); err != nil {
		t.Fatalf("syncNow() error = %v", err)
	}
	if _, ok := fake.Record(models.TableExercises, "e1"); !ok {
		t.Error("remote should hold e1 after sync")
	}

	out, err = b.syncState()
	if err != nil {
		t.Fatalf("syncState() error = %v", err)
	}
	var st models.SyncState
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if st.PendingCount != 0 || st.LastSyncAt == nil {
		t.Errorf("state = %+v, want drained queue and a sync time", st)
	}

	if _, err := b.submit("exercises", "delete", `{"id":"e1"}`); err != nil {
		t.Errorf("submit(delete) error = %v", err)
	}
}

func TestBridge_SubmitValidation(t *testing.T) {
	b, _ := startBridge(t)

	tests := []struct {
		name           string
		table, op, arg string
	}{
		{"unknown table", "workouts", "create", `{"fields":{"name":"x"}}`},
		{"unknown op", "exercises", "upsert", `{"fields":{"name":"x"}}`},
		{"bad json", "exercises", "create", `{`},
		{"missing fields", "exercises", "create", `{"id":"e1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.submit(tt.table, tt.op, tt.arg)
			if !apperrors.Is(err, apperrors.ErrValidation) {
				t.Errorf("submit() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestBridge_Media(t *testing.T) {
	b, _ := startBridge(t)

	out, err := b.resolveMedia("https://cdn.example.com/lunge.gif", "", "high", "exercises/e1")
	if err != nil {
		t.Fatalf("resolveMedia() error = %v", err)
	}
	var h struct {
		Path        string `json:"path"`
		ContentType string `json:"content_type"`
		Placeholder bool   `json:"placeholder"`
	}
	if err := json.Unmarshal([]byte(out), &h); err != nil {
		t.Fatal(err)
	}
	if h.Placeholder || h.ContentType != "image/gif" {
		t.Errorf("handle = %+v", h)
	}
	if _, err := os.Stat(h.Path); err != nil {
		t.Errorf("cached file missing: %v", err)
	}

	if err := b.reportNetwork(false); err != nil {
		t.Fatal(err)
	}
	out, err = b.resolveMedia("https://cdn.example.com/other.gif", "image", "", "")
	if err != nil {
		t.Fatalf("resolveMedia(offline) error = %v", err)
	}
	if !strings.Contains(out, `"placeholder":true`) {
		t.Errorf("offline miss = %s, want placeholder", out)
	}

	if _, err := b.resolveMedia("https://cdn.example.com/x", "audio", "", ""); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("resolveMedia(audio) error = %v, want ErrValidation", err)
	}

	if _, err := b.cleanupMedia(); err != nil {
		t.Errorf("cleanupMedia() error = %v", err)
	}
}

func TestBridge_LastError(t *testing.T) {
	b := &bridge{}
	b.setErr(apperrors.New(apperrors.ErrNotFound, "exercise e9"))

	var body errorJSON
	if err := json.Unmarshal([]byte(b.lastError()), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != string(apperrors.ErrNotFound) {
		t.Errorf("code = %q, want %q", body.Code, apperrors.ErrNotFound)
	}

	b.setErr(nil)
	if b.lastError() != "" {
		t.Errorf("lastError() = %q after success, want empty", b.lastError())
	}
}
