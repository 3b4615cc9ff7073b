package handlers

import (
	"net/http"
	"strconv"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/records"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/scheduler"
	"github.com/kimhsiao/gymnexus/backend/internal/uuid"
)

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	sync      *syncpkg.Coordinator
	scheduler *scheduler.Scheduler
	store     *records.Store
	wsHub     WSSyncBroadcaster
}

// WSSyncBroadcaster receives the outcome of manually triggered cycles.
type WSSyncBroadcaster interface {
	BroadcastSyncCompleted(result *syncpkg.SyncResult)
	BroadcastSyncFailed(errorCode string, retryable bool, result *syncpkg.SyncResult)
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(coord *syncpkg.Coordinator, sched *scheduler.Scheduler, store *records.Store) *SyncHandler {
	return &SyncHandler{sync: coord, scheduler: sched, store: store}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting sync events.
func (h *SyncHandler) SetWebSocketHub(wsHub WSSyncBroadcaster) {
	h.wsHub = wsHub
}

// =====================================================
// Status and Trigger Endpoints
// =====================================================

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}

// TriggerSync handles POST /api/sync/now
// Runs one cycle and returns its result. ?async=true only queues a
// background cycle.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"queued": h.scheduler.TriggerSync(),
		})
		return
	}

	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		if h.wsHub != nil {
			h.wsHub.BroadcastSyncFailed(string(apperrors.CodeOf(err)), apperrors.Retryable(err), result)
		}
		writeError(w, err)
		return
	}
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncCompleted(result)
	}
	writeJSON(w, http.StatusOK, result)
}

// =====================================================
// Dead Letter Endpoints
// =====================================================

// ListDeadLetters handles GET /api/sync/dead-letters
func (h *SyncHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dead, err := h.sync.DeadLetters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if dead == nil {
		dead = []models.QueuedMutation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": dead,
		"total": len(dead),
	})
}

func mutationID(r *http.Request) (models.UUID, error) {
	id, err := uuid.Normalize(r.PathValue("id"))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "invalid mutation id", err)
	}
	return models.UUID(id), nil
}

// RetryDeadLetter handles POST /api/sync/dead-letters/{id}/retry
func (h *SyncHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := mutationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := h.sync.RetryDeadLetter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RetryAllDeadLetters handles POST /api/sync/dead-letters/retry-all
func (h *SyncHandler) RetryAllDeadLetters(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.RetryAllDeadLetters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

// DiscardDeadLetter handles DELETE /api/sync/dead-letters/{id}
func (h *SyncHandler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := mutationID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sync.DiscardDeadLetter(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConflicts handles GET /api/sync/conflicts?limit=N
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	logs, err := h.store.ListConflicts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []models.ConflictLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": logs,
		"total": len(logs),
	})
}
