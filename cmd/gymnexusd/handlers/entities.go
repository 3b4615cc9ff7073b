package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/records"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
)

// EntityHandler serves local reads and accepts local writes. Writes go
// through the coordinator so they are applied and queued together.
type EntityHandler struct {
	store *records.Store
	sync  *syncpkg.Coordinator
}

// NewEntityHandler creates a new EntityHandler.
func NewEntityHandler(store *records.Store, coord *syncpkg.Coordinator) *EntityHandler {
	return &EntityHandler{store: store, sync: coord}
}

type writeRequest struct {
	ID     string          `json:"id,omitempty"`
	Fields json.RawMessage `json:"fields"`
}

type writeResponse struct {
	Record   *models.EntityRecord  `json:"record,omitempty"`
	Mutation models.QueuedMutation `json:"mutation"`
}

func tableParam(r *http.Request) (models.EntityTable, error) {
	return models.ParseTable(r.PathValue("table"))
}

// List handles GET /api/entities/{table}
// Optional filters: q (name contains), category_id, tag, exercise_id,
// block_id.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid table", err))
		return
	}

	query := r.URL.Query()
	var preds []records.Predicate
	if q := query.Get("q"); q != "" {
		preds = append(preds, records.NameContains(q))
	}

	var recs []models.EntityRecord
	index, value := "", ""
	for _, name := range []string{models.IndexCategoryID, models.IndexTag, models.IndexExerciseID, models.IndexBlockID} {
		if v := query.Get(name); v != "" {
			index, value = name, v
			break
		}
	}
	if index != "" {
		recs, err = h.store.ListByIndex(r.Context(), table, index, value, preds...)
	} else {
		recs, err = h.store.List(r.Context(), table, preds...)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []models.EntityRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": recs,
		"total": len(recs),
	})
}

// Get handles GET /api/entities/{table}/{id}
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid table", err))
		return
	}
	rec, err := h.store.Get(r.Context(), table, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create handles POST /api/entities/{table}
func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, models.OpCreate, "")
}

// Update handles PUT /api/entities/{table}/{id}
func (h *EntityHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, models.OpUpdate, r.PathValue("id"))
}

// Delete handles DELETE /api/entities/{table}/{id}
func (h *EntityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid table", err))
		return
	}
	m, err := h.sync.SubmitMutation(r.Context(), table, models.OpDelete, syncpkg.Payload{ID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, writeResponse{Mutation: m})
}

func (h *EntityHandler) write(w http.ResponseWriter, r *http.Request, op models.MutationOp, id string) {
	table, err := tableParam(r)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid table", err))
		return
	}

	var req writeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if id == "" {
		id = req.ID
	}
	if len(req.Fields) == 0 {
		writeError(w, apperrors.New(apperrors.ErrValidation, "fields is required"))
		return
	}
	fields, err := models.DecodeFields(table, req.Fields)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid fields", err))
		return
	}

	m, err := h.sync.SubmitMutation(r.Context(), table, op, syncpkg.Payload{ID: id, Fields: fields})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := writeResponse{Mutation: m}
	if rec, err := h.store.Get(r.Context(), table, m.EntityID); err == nil {
		resp.Record = &rec
	}
	status := http.StatusAccepted
	if op == models.OpCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}
