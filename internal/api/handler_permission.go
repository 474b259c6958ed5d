package api

import (
	"net/http"

	"github.com/anyfast/anyfast-core/internal/facade"
)

// HandleGetPermissionStatus returns a handler for GET
// /api/v1/permission/status (spec §6 "get_permission_status").
func HandleGetPermissionStatus(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, f.GetPermissionStatus())
	}
}

// HandleRefreshServiceStatus returns a handler for POST
// /api/v1/permission/refresh (spec §6 "refresh_service_status").
func HandleRefreshServiceStatus(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running := f.RefreshServiceStatus(r.Context())
		WriteJSON(w, http.StatusOK, map[string]bool{"service_running": running})
	}
}

// HandleIsServiceRunning returns a handler for GET
// /api/v1/permission/service-running (spec §6 "is_service_running").
func HandleIsServiceRunning(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"service_running": f.IsServiceRunning()})
	}
}

// HandleHasBundledHelper returns a handler for GET
// /api/v1/permission/has-helper (spec §6 "has_bundled_helper").
func HandleHasBundledHelper(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"has_helper": f.HasBundledHelper()})
	}
}

// HandleIsMacOSHelperAvailable returns a handler for GET
// /api/v1/permission/helper-available (spec §6
// "is_macos_helper_available").
func HandleIsMacOSHelperAvailable(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"helper_available": f.IsMacOSHelperAvailable()})
	}
}

// HandleInstallMacOSHelper returns a handler for POST
// /api/v1/permission/install-helper (spec §6 "install_macos_helper").
func HandleInstallMacOSHelper(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f.InstallMacOSHelper(r.Context()); err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "installed"})
	}
}
