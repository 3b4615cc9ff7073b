package main

import (
	"net/http"

	"github.com/kimhsiao/gymnexus/backend/cmd/gymnexusd/handlers"
	"github.com/kimhsiao/gymnexus/backend/internal/app"
)

// newMux registers every daemon route on a fresh ServeMux.
func newMux(a *app.App, hub *WSHub) *http.ServeMux {
	entityHandler := handlers.NewEntityHandler(a.Records, a.Sync)
	syncHandler := handlers.NewSyncHandler(a.Sync, a.Scheduler, a.Records)
	mediaHandler := handlers.NewMediaHandler(a.Media, a.Scheduler)
	if hub != nil {
		syncHandler.SetWebSocketHub(hub)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"gymnexusd"}`))
	})

	// Entities
	mux.HandleFunc("GET /api/entities/{table}", entityHandler.List)
	mux.HandleFunc("POST /api/entities/{table}", entityHandler.Create)
	mux.HandleFunc("GET /api/entities/{table}/{id}", entityHandler.Get)
	mux.HandleFunc("PUT /api/entities/{table}/{id}", entityHandler.Update)
	mux.HandleFunc("DELETE /api/entities/{table}/{id}", entityHandler.Delete)

	// Sync
	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /api/sync/now", syncHandler.TriggerSync)
	mux.HandleFunc("GET /api/sync/conflicts", syncHandler.ListConflicts)
	mux.HandleFunc("GET /api/sync/dead-letters", syncHandler.ListDeadLetters)
	mux.HandleFunc("POST /api/sync/dead-letters/retry-all", syncHandler.RetryAllDeadLetters)
	mux.HandleFunc("POST /api/sync/dead-letters/{id}/retry", syncHandler.RetryDeadLetter)
	mux.HandleFunc("DELETE /api/sync/dead-letters/{id}", syncHandler.DiscardDeadLetter)

	// Media
	mux.HandleFunc("GET /api/media", mediaHandler.Serve)
	mux.HandleFunc("DELETE /api/media", mediaHandler.Purge)
	mux.HandleFunc("GET /api/media/stats", mediaHandler.Stats)
	mux.HandleFunc("POST /api/media/cleanup", mediaHandler.Cleanup)

	if hub != nil {
		mux.HandleFunc("GET /ws", HandleWebSocket(hub, a.Sync))
	}
	return mux
}
