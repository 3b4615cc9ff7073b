package handlers

import (
	"net/http"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/media"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/scheduler"
)

// MediaHandler serves cached media and cache maintenance.
type MediaHandler struct {
	cache     *media.Cache
	scheduler *scheduler.Scheduler
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(cache *media.Cache, sched *scheduler.Scheduler) *MediaHandler {
	return &MediaHandler{cache: cache, scheduler: sched}
}

// Serve handles GET /api/media?url=...&kind=image|video&priority=low|medium|high&owner=table/id
// The body is the cached file, a fresh download, or the placeholder
// image; X-Media-Placeholder tells them apart.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	url := query.Get("url")
	if url == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "url is required"))
		return
	}
	kind := models.MediaKind(query.Get("kind"))
	if kind == "" {
		kind = models.MediaImage
	}
	if !kind.Valid() {
		writeError(w, apperrors.Newf(apperrors.ErrValidation, "unknown media kind %q", kind))
		return
	}
	priority, err := models.ParsePriority(query.Get("priority"))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid priority", err))
		return
	}

	handle, err := h.cache.Resolve(r.Context(), url, kind, media.FetchOptions{
		Priority: priority,
		OwnerRef: query.Get("owner"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", handle.ContentType)
	if handle.Placeholder {
		w.Header().Set("X-Media-Placeholder", "true")
		w.Header().Set("Cache-Control", "no-store")
	}
	http.ServeFile(w, r, handle.Path)
}

// Purge handles DELETE /api/media?url=...
func (h *MediaHandler) Purge(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "url is required"))
		return
	}
	if err := h.cache.Purge(r.Context(), url); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/media/stats
func (h *MediaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /api/media/cleanup
func (h *MediaHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.CleanupNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
