package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
	"github.com/kimhsiao/gymnexus/backend/internal/remote/remotetest"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/scheduler"
)

type recordingHub struct {
	mu        sync.Mutex
	completed int
	failed    []string
}

func (h *recordingHub) BroadcastSyncCompleted(result *syncpkg.SyncResult) {
	h.mu.Lock()
	h.completed++
	h.mu.Unlock()
}

func (h *recordingHub) BroadcastSyncFailed(code string, retryable bool, result *syncpkg.SyncResult) {
	h.mu.Lock()
	h.failed = append(h.failed, code)
	h.mu.Unlock()
}

func submit(t *testing.T, c *syncpkg.Coordinator, id string) models.QueuedMutation {
	t.Helper()
	m, err := c.SubmitMutation(context.Background(), models.TableExercises, models.OpCreate,
		syncpkg.Payload{ID: id, Fields: models.ExerciseFields{Name: "Row"}})
	if err != nil {
		t.Fatalf("SubmitMutation() error = %v", err)
	}
	return m
}

// =====================================================
// Sync Handler Tests
// =====================================================

func TestSyncHandler_TriggerSync(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)
	hub := &recordingHub{}
	h.SetWebSocketHub(hub)
	submit(t, a.Sync, "e1")

	w := httptest.NewRecorder()
	h.TriggerSync(w, request(http.MethodPost, "/api/sync/now", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res syncpkg.SyncResult
	decode(t, w, &res)
	if res.Pushed != 1 || !res.PullComplete {
		t.Errorf("result = %+v", res)
	}
	if _, ok := fake.Record(models.TableExercises, "e1"); !ok {
		t.Error("e1 should be pushed")
	}
	if hub.completed != 1 {
		t.Errorf("completed broadcasts = %d, want 1", hub.completed)
	}

	w = httptest.NewRecorder()
	h.GetStatus(w, request(http.MethodGet, "/api/sync/status", ""))
	var status scheduler.Status
	decode(t, w, &status)
	if status.LastSyncTime == nil || status.State.LastSyncAt == nil || !status.IsOnline {
		t.Errorf("status = %+v", status)
	}
}

func TestSyncHandler_TriggerSyncFailure(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)
	hub := &recordingHub{}
	h.SetWebSocketHub(hub)
	fake.FailOnce(remotetest.OpList, models.TableCategories, "", remote.NewError(remote.KindTransient, "down"))

	w := httptest.NewRecorder()
	h.TriggerSync(w, request(http.MethodPost, "/api/sync/now", ""))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if got := errorCode(t, w); got != "SYNC_FAILED" {
		t.Errorf("code = %q", got)
	}
	if len(hub.failed) != 1 || hub.failed[0] != "SYNC_FAILED" {
		t.Errorf("failed broadcasts = %v", hub.failed)
	}
}

func TestSyncHandler_TriggerSyncAsync(t *testing.T) {
	a, _ := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)

	w := httptest.NewRecorder()
	h.TriggerSync(w, request(http.MethodPost, "/api/sync/now?async=true", ""))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
}

func TestSyncHandler_DeadLetters(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)
	ctx := context.Background()

	fake.FailOnce(remotetest.OpCreate, "", "e1", remote.NewError(remote.KindValidation, "rejected"))
	m := submit(t, a.Sync, "e1")
	if _, err := a.Sync.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	w := httptest.NewRecorder()
	h.ListDeadLetters(w, request(http.MethodGet, "/api/sync/dead-letters", ""))
	var list struct {
		Items []models.QueuedMutation `json:"items"`
		Total int                     `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 1 || list.Items[0].ID != m.ID {
		t.Fatalf("dead letters = %+v", list)
	}

	w = httptest.NewRecorder()
	h.RetryDeadLetter(w, request(http.MethodPost, "/", "", "id", "not-a-uuid"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("retry with bad id status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	h.RetryDeadLetter(w, request(http.MethodPost, "/", "", "id", string(m.ID)))
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body = %s", w.Code, w.Body.String())
	}
	if st := a.Sync.State(); st.DeadLetterCount != 0 || st.PendingCount != 1 {
		t.Errorf("state after retry = %+v", st)
	}

	// Retrying a pending mutation is not found among dead letters.
	w = httptest.NewRecorder()
	h.RetryDeadLetter(w, request(http.MethodPost, "/", "", "id", string(m.ID)))
	if w.Code != http.StatusNotFound {
		t.Errorf("second retry status = %d, want 404", w.Code)
	}
}

func TestSyncHandler_DiscardDeadLetter(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)

	fake.FailOnce(remotetest.OpCreate, "", "", remote.NewError(remote.KindConflict, "exists"))
	m := submit(t, a.Sync, "e1")
	a.Sync.Sync(context.Background())

	w := httptest.NewRecorder()
	h.DiscardDeadLetter(w, request(http.MethodDelete, "/", "", "id", string(m.ID)))
	if w.Code != http.StatusNoContent {
		t.Fatalf("discard status = %d, body = %s", w.Code, w.Body.String())
	}
	if st := a.Sync.State(); st.DeadLetterCount != 0 || st.PendingCount != 0 {
		t.Errorf("state after discard = %+v", st)
	}
}

func TestSyncHandler_RetryAllDeadLetters(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)

	fake.FailOnce(remotetest.OpCreate, "", "e1", remote.NewError(remote.KindValidation, "rejected"))
	fake.FailOnce(remotetest.OpCreate, "", "e2", remote.NewError(remote.KindValidation, "rejected"))
	submit(t, a.Sync, "e1")
	submit(t, a.Sync, "e2")
	a.Sync.Sync(context.Background())
	if st := a.Sync.State(); st.DeadLetterCount != 2 {
		t.Fatalf("DeadLetterCount = %d, want 2", st.DeadLetterCount)
	}

	w := httptest.NewRecorder()
	h.RetryAllDeadLetters(w, request(http.MethodPost, "/api/sync/dead-letters/retry-all", ""))
	var body map[string]int
	decode(t, w, &body)
	if body["requeued"] != 2 {
		t.Errorf("requeued = %d, want 2", body["requeued"])
	}
	if st := a.Sync.State(); st.DeadLetterCount != 0 || st.PendingCount != 2 {
		t.Errorf("state after retry-all = %+v", st)
	}
}

func TestSyncHandler_ListConflicts(t *testing.T) {
	a, fake := setupTestApp(t)
	h := NewSyncHandler(a.Sync, a.Scheduler, a.Records)

	m := submit(t, a.Sync, "e1")
	stale := models.NewRecord("e1", models.ExerciseFields{Name: "Old"}, m.EnqueuedAt.Add(-time.Minute))
	fake.Seed(stale)
	fake.FailOnce(remotetest.OpCreate, "", "", remote.NewError(remote.KindTransient, "flaky"))
	a.Sync.Sync(context.Background())

	w := httptest.NewRecorder()
	h.ListConflicts(w, request(http.MethodGet, "/api/sync/conflicts?limit=10", ""))
	var body struct {
		Items []models.ConflictLog `json:"items"`
	}
	decode(t, w, &body)
	if len(body.Items) != 1 || body.Items[0].Resolution != "local_wins" {
		t.Errorf("conflicts = %+v", body.Items)
	}
}
