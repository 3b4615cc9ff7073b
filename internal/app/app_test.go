package app

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/config"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/media"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote/remotetest"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Remote.BaseURL = baseURL
	cfg.Network.ProbeURL = ""
	cfg.Network.Settle = 0
	return cfg
}

func TestNew_RequiresRemote(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, ""))
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("New() error = %v, want VALIDATION_ERROR", err)
	}
}

func TestApp_SyncOverHTTP(t *testing.T) {
	fake := remotetest.New()
	fake.Seed(models.NewRecord("c1", models.CategoryFields{Name: "Mobility"}, time.Now().Add(-time.Hour)))
	srv := httptest.NewServer(remotetest.Handler(fake))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Network.ProbeURL = srv.URL + "/v1/categories"
	ctx := context.Background()

	a, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Prober == nil {
		t.Fatal("Prober should be built when a probe url is set")
	}
	if !a.Prober.Probe(ctx) || !a.Network.Online() {
		t.Fatal("probe against the test server should report online")
	}

	if _, err := a.Sync.SubmitMutation(ctx, models.TableExercises, models.OpCreate, syncpkg.Payload{
		ID:     "e1",
		Fields: models.ExerciseFields{Name: "Goblet Squat", CategoryID: "c1"},
	}); err != nil {
		t.Fatalf("SubmitMutation() error = %v", err)
	}

	res, err := a.Scheduler.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if res.Pushed != 1 || !res.PullComplete {
		t.Errorf("result = %+v", res)
	}
	if _, ok := fake.Record(models.TableExercises, "e1"); !ok {
		t.Error("e1 should reach the remote")
	}
	if _, err := a.Records.Get(ctx, models.TableCategories, "c1"); err != nil {
		t.Errorf("c1 should be pulled: %v", err)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// State survives a restart.
	b, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer b.Close(ctx)
	if st := b.Sync.State(); st.LastSyncAt == nil || st.PendingCount != 0 {
		t.Errorf("state after restart = %+v", st)
	}
}

func TestApp_StartClose(t *testing.T) {
	srv := httptest.NewServer(remotetest.Handler(remotetest.New()))
	defer srv.Close()

	ctx := context.Background()
	a, err := New(ctx, testConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.Start(ctx)
	a.Start(ctx)
	if !a.Scheduler.IsRunning() {
		t.Error("scheduler should run after Start")
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Scheduler.IsRunning() {
		t.Error("scheduler should stop on Close")
	}
}

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	data, ok := f[url]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestApp_MediaUsesFetcherOverride(t *testing.T) {
	ctx := context.Background()
	gif := []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

	a, err := New(ctx, testConfig(t, "https://api.example.com"),
		WithRemote(remotetest.New()),
		WithFetcher(staticFetcher{"https://cdn.example.com/a.gif": gif}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close(ctx)
	// The remote base url is the probe target; nothing has probed it yet.
	if a.Network.Online() {
		t.Fatal("network should start offline until probed")
	}
	a.Network.Report(true)

	l, err := a.Media.GetOrFetch(ctx, "https://cdn.example.com/a.gif", models.MediaImage, media.FetchOptions{})
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if l.Status != media.StatusFetched || l.Handle.ContentType != "image/gif" {
		t.Errorf("lookup = %+v", l)
	}
}

func TestBuildOrigins(t *testing.T) {
	cfg := config.Default()
	cfg.Origins.MinIO.Enabled = true
	cfg.Origins.MinIO.Endpoint = "localhost:9000"

	router, err := BuildOrigins(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildOrigins() error = %v", err)
	}
	got := map[string]bool{}
	for _, s := range router.Schemes() {
		got[s] = true
	}
	if !got["http"] || !got["https"] || !got["minio"] || got["s3"] {
		t.Errorf("schemes = %v", router.Schemes())
	}

	cfg.Origins.S3.Enabled = true
	cfg.Origins.S3.Provider = "r2"
	if _, err := BuildOrigins(context.Background(), cfg); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("r2 without account error = %v, want VALIDATION_ERROR", err)
	}
}
