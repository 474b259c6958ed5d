package api

import (
	"net/http"

	"github.com/anyfast/anyfast-core/internal/facade"
)

// HandleGetHostsPath returns a handler for GET /api/v1/hosts-path (spec §6
// "get_hosts_path").
func HandleGetHostsPath(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"path": f.GetHostsPath()})
	}
}

// HandleGetHistoryStats returns a handler for GET
// /api/v1/history/stats (spec §6 "get_history_stats").
func HandleGetHistoryStats(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, ok := queryIntOrWriteInvalid(w, r, "hours", 24)
		if !ok {
			return
		}
		stats, err := f.GetHistoryStats(r.Context(), hours)
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleClearHistory returns a handler for POST /api/v1/history/clear
// (spec §6 "clear_history").
func HandleClearHistory(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f.ClearHistory(r.Context()); err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleGetCurrentVersion returns a handler for GET /api/v1/version (spec
// §6 "get_current_version").
func HandleGetCurrentVersion(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"version": f.GetCurrentVersion()})
	}
}

// HandleCheckForUpdate returns a handler for GET /api/v1/update (spec §6
// "check_for_update").
func HandleCheckForUpdate(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, f.CheckForUpdate())
	}
}
