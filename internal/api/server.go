package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anyfast/anyfast-core/internal/facade"
)

// DefaultMaxBodyBytes bounds request bodies for the authenticated routes.
const DefaultMaxBodyBytes = 1 << 20 // 1 MiB

// Server wraps the HTTP server and mux over the façade command surface
// (spec §6).
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the API server wired with all routes. adminToken
// authenticates every /api/ route except /healthz.
func NewServer(listenAddress string, port int, adminToken string, f *facade.Facade, maxBodyBytes int64) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()

	authed.Handle("POST /api/v1/speed-test/start", HandleStartSpeedTest(f))
	authed.Handle("POST /api/v1/speed-test/stop", HandleStopSpeedTest(f))
	authed.Handle("POST /api/v1/speed-test/single", HandleTestSingleEndpoint(f))

	authed.Handle("POST /api/v1/bindings/apply", HandleApplyEndpoint(f))
	authed.Handle("POST /api/v1/bindings/apply-all", HandleApplyAllEndpoints(f))
	authed.Handle("DELETE /api/v1/bindings", HandleClearAllBindings(f))
	authed.Handle("DELETE /api/v1/bindings/{domain}", HandleUnbindEndpoint(f))
	authed.Handle("GET /api/v1/bindings", HandleGetBindings(f))
	authed.Handle("GET /api/v1/bindings/count", HandleGetBindingCount(f))
	authed.Handle("GET /api/v1/bindings/any", HandleHasAnyBindings(f))

	authed.Handle("GET /api/v1/permission/status", HandleGetPermissionStatus(f))
	authed.Handle("POST /api/v1/permission/refresh", HandleRefreshServiceStatus(f))
	authed.Handle("GET /api/v1/permission/service-running", HandleIsServiceRunning(f))
	authed.Handle("GET /api/v1/permission/has-helper", HandleHasBundledHelper(f))
	authed.Handle("GET /api/v1/permission/helper-available", HandleIsMacOSHelperAvailable(f))
	authed.Handle("POST /api/v1/permission/install-helper", HandleInstallMacOSHelper(f))

	authed.Handle("GET /api/v1/hosts-path", HandleGetHostsPath(f))
	authed.Handle("GET /api/v1/history/stats", HandleGetHistoryStats(f))
	authed.Handle("POST /api/v1/history/clear", HandleClearHistory(f))
	authed.Handle("GET /api/v1/version", HandleGetCurrentVersion(f))
	authed.Handle("GET /api/v1/update", HandleCheckForUpdate(f))

	limitedAuthed := RequestBodyLimitMiddleware(maxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", listenAddress, port),
			Handler: mux,
		},
		mux: mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
