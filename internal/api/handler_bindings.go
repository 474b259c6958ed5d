package api

import (
	"net/http"

	"github.com/anyfast/anyfast-core/internal/facade"
)

// HandleApplyEndpoint returns a handler for POST /api/v1/bindings/apply
// (spec §6 "apply_endpoint").
func HandleApplyEndpoint(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Domain    string   `json:"domain"`
			IP        string   `json:"ip"`
			LatencyMs *float64 `json:"latency_ms"`
		}
		if !decodeBodyOrWriteInvalid(w, r, &body) {
			return
		}
		if body.Domain == "" || body.IP == "" {
			writeInvalidArgument(w, "domain and ip are required")
			return
		}
		if err := f.ApplyEndpoint(r.Context(), body.Domain, body.IP, body.LatencyMs); err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleApplyAllEndpoints returns a handler for POST
// /api/v1/bindings/apply-all (spec §6 "apply_all_endpoints").
func HandleApplyAllEndpoints(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := f.ApplyAllEndpoints(r.Context())
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"applied": n})
	}
}

// HandleClearAllBindings returns a handler for DELETE /api/v1/bindings
// (spec §6 "clear_all_bindings").
func HandleClearAllBindings(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := f.ClearAllBindings(r.Context())
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
	}
}

// HandleUnbindEndpoint returns a handler for DELETE
// /api/v1/bindings/{domain} (spec §6 "unbind_endpoint").
func HandleUnbindEndpoint(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := PathParam(r, "domain")
		if domain == "" {
			writeInvalidArgument(w, "domain path parameter is required")
			return
		}
		if err := f.UnbindEndpoint(r.Context(), domain); err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleGetBindings returns a handler for GET /api/v1/bindings (spec §6
// "get_bindings").
func HandleGetBindings(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bindings, err := f.GetBindings()
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, bindings)
	}
}

// HandleGetBindingCount returns a handler for GET
// /api/v1/bindings/count (spec §6 "get_binding_count").
func HandleGetBindingCount(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := f.GetBindingCount()
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

// HandleHasAnyBindings returns a handler for GET /api/v1/bindings/any
// (spec §6 "has_any_bindings").
func HandleHasAnyBindings(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		has, err := f.HasAnyBindings()
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]bool{"has_any": has})
	}
}
