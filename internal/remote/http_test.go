package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
	"github.com/kimhsiao/gymnexus/backend/internal/remote/remotetest"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newServedFake(t *testing.T) (*remotetest.Fake, *remote.HTTPClient) {
	t.Helper()
	fake := remotetest.New()
	fake.Now = func() time.Time { return t0.Add(time.Hour) }
	srv := httptest.NewServer(remotetest.Handler(fake))
	t.Cleanup(srv.Close)
	return fake, remote.NewHTTPClient(srv.URL+"/", "secret", 5*time.Second)
}

// =====================================================
// Round trip through the REST protocol
// =====================================================

func TestHTTPClient_CreateUpdateListDelete(t *testing.T) {
	fake, client := newServedFake(t)
	ctx := context.Background()

	rec := models.NewRecord("e1", models.ExerciseFields{Name: "Squat", Tags: []string{"legs"}}, t0)
	if err := client.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stored, ok := fake.Record(models.TableExercises, "e1")
	if !ok || stored.Fields.(models.ExerciseFields).Name != "Squat" {
		t.Fatalf("stored = %+v, %v", stored, ok)
	}

	rec2 := models.NewRecord("e1", models.ExerciseFields{Name: "Front Squat"}, t0.Add(time.Minute))
	if err := client.Update(ctx, rec2); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	list, err := client.List(ctx, models.TableExercises, time.Time{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Fields.(models.ExerciseFields).Name != "Front Squat" {
		t.Errorf("List() = %+v", list)
	}
	if !list[0].UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", list[0].UpdatedAt)
	}

	if err := client.Delete(ctx, models.TableExercises, "e1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	list, _ = client.List(ctx, models.TableExercises, t0.Add(30*time.Minute))
	if len(list) != 1 || !list[0].Deleted {
		t.Errorf("List(since) = %+v, want one tombstone", list)
	}

	list, _ = client.List(ctx, models.TableExercises, t0.Add(2*time.Hour))
	if len(list) != 0 {
		t.Errorf("List(after tombstone) = %+v, want empty", list)
	}
}

func TestHTTPClient_ErrorKinds(t *testing.T) {
	fake, client := newServedFake(t)
	ctx := context.Background()
	rec := models.NewRecord("c1", models.CategoryFields{Name: "Push"}, t0)

	if err := client.Update(ctx, rec); remote.KindOf(err) != remote.KindNotFound {
		t.Errorf("Update(missing) kind = %s, want not_found (%v)", remote.KindOf(err), err)
	}
	if err := client.Delete(ctx, models.TableCategories, "c1"); remote.KindOf(err) != remote.KindNotFound {
		t.Errorf("Delete(missing) kind = %s, want not_found", remote.KindOf(err))
	}

	client.Create(ctx, rec)
	if err := client.Create(ctx, rec); remote.KindOf(err) != remote.KindConflict {
		t.Errorf("Create(dup) kind = %s, want conflict", remote.KindOf(err))
	}

	bad := models.EntityRecord{ID: "c2", Table: models.TableCategories, Fields: models.CategoryFields{}, UpdatedAt: t0}
	if err := client.Create(ctx, bad); remote.KindOf(err) != remote.KindValidation {
		t.Errorf("Create(invalid) kind = %s, want validation", remote.KindOf(err))
	}

	fake.FailOnce(remotetest.OpList, "", "", remote.NewError(remote.KindTransient, "maintenance"))
	if _, err := client.List(ctx, models.TableCategories, time.Time{}); remote.KindOf(err) != remote.KindTransient {
		t.Errorf("List(injected) kind = %s, want transient", remote.KindOf(err))
	}
	if _, err := client.List(ctx, models.TableCategories, time.Time{}); err != nil {
		t.Errorf("List() after one-shot failure error = %v", err)
	}
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   remote.ErrorKind
	}{
		{http.StatusBadRequest, remote.KindValidation},
		{http.StatusUnprocessableEntity, remote.KindValidation},
		{http.StatusNotFound, remote.KindNotFound},
		{http.StatusGone, remote.KindNotFound},
		{http.StatusConflict, remote.KindConflict},
		{http.StatusPreconditionFailed, remote.KindConflict},
		{http.StatusTooManyRequests, remote.KindTransient},
		{http.StatusUnauthorized, remote.KindTransient},
		{http.StatusBadGateway, remote.KindTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			client := remote.NewHTTPClient(srv.URL, "tok", time.Second)
			err := client.Delete(context.Background(), models.TableBlocks, "b1")
			var re *remote.Error
			if !errors.As(err, &re) {
				t.Fatalf("error = %T %v, want *remote.Error", err, err)
			}
			if re.Kind != tt.want || re.Status != tt.status || re.Message != "nope" {
				t.Errorf("error = %+v, want kind %s", re, tt.want)
			}
		})
	}
}

func TestHTTPClient_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := remote.NewHTTPClient(srv.URL, "", time.Second)
	_, err := client.List(context.Background(), models.TableTemplates, time.Time{})
	if remote.KindOf(err) != remote.KindTransient {
		t.Errorf("kind = %s, want transient", remote.KindOf(err))
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := remote.NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	_, err := client.List(context.Background(), models.TableTemplates, time.Time{})
	if remote.KindOf(err) != remote.KindTransient {
		t.Errorf("kind = %s, want transient (%v)", remote.KindOf(err), err)
	}
}

// =====================================================
// Classification
// =====================================================

func TestToAppError(t *testing.T) {
	tests := []struct {
		err  error
		code apperrors.ErrorCode
	}{
		{remote.NewError(remote.KindNotFound, "x"), apperrors.ErrNotFound},
		{remote.NewError(remote.KindConflict, "x"), apperrors.ErrRemoteRejected},
		{remote.NewError(remote.KindValidation, "x"), apperrors.ErrRemoteRejected},
		{remote.NewError(remote.KindTransient, "x"), apperrors.ErrTransientNetwork},
		{context.DeadlineExceeded, apperrors.ErrTransientNetwork},
	}
	for _, tt := range tests {
		if got := remote.ToAppError(tt.err); !apperrors.Is(got, tt.code) {
			t.Errorf("ToAppError(%v) = %v, want %s", tt.err, got, tt.code)
		}
	}
	if remote.ToAppError(nil) != nil {
		t.Error("ToAppError(nil) should be nil")
	}
}
