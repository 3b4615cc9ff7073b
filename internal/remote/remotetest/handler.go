package remotetest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
)

// Handler serves svc over the REST protocol HTTPClient speaks.
func Handler(svc remote.Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/{table}", func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if s := r.URL.Query().Get("since"); s != "" {
			ms, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				writeError(w, remote.NewError(remote.KindValidation, "bad since %q", s))
				return
			}
			since = models.FromMillis(ms)
		}
		recs, err := svc.List(r.Context(), models.EntityTable(r.PathValue("table")), since)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, remote.ListResponse{Records: recs})
	})

	mux.HandleFunc("POST /v1/{table}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		if err := svc.Create(r.Context(), rec); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	})

	mux.HandleFunc("PUT /v1/{table}/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		if rec.ID != r.PathValue("id") {
			writeError(w, remote.NewError(remote.KindValidation, "id mismatch"))
			return
		}
		if err := svc.Update(r.Context(), rec); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("DELETE /v1/{table}/{id}", func(w http.ResponseWriter, r *http.Request) {
		err := svc.Delete(r.Context(), models.EntityTable(r.PathValue("table")), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (models.EntityRecord, bool) {
	var rec models.EntityRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, remote.NewError(remote.KindValidation, "decode record: %v", err))
		return rec, false
	}
	table := models.EntityTable(r.PathValue("table"))
	if rec.Table == "" {
		rec.Table = table
	}
	if rec.Table != table {
		writeError(w, remote.NewError(remote.KindValidation, "table mismatch"))
		return rec, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	switch remote.KindOf(err) {
	case remote.KindNotFound:
		status = http.StatusNotFound
	case remote.KindConflict:
		status = http.StatusConflict
	case remote.KindValidation:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, remote.ErrorResponse{Error: err.Error()})
}
