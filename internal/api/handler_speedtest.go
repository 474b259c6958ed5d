package api

import (
	"net/http"

	"github.com/anyfast/anyfast-core/internal/facade"
	"github.com/anyfast/anyfast-core/internal/model"
)

// HandleStartSpeedTest returns a handler for POST /api/v1/speed-test/start
// (spec §6 "start_speed_test").
func HandleStartSpeedTest(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updateBaseline, ok := queryBoolOrWriteInvalid(w, r, "update_baseline", true)
		if !ok {
			return
		}
		results := f.StartSpeedTest(r.Context(), updateBaseline)
		WriteJSON(w, http.StatusOK, results)
	}
}

// HandleStopSpeedTest returns a handler for POST /api/v1/speed-test/stop
// (spec §6 "stop_speed_test").
func HandleStopSpeedTest(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.StopSpeedTest()
		WriteJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	}
}

// HandleTestSingleEndpoint returns a handler for POST
// /api/v1/speed-test/single (spec §6 "test_single_endpoint").
func HandleTestSingleEndpoint(f *facade.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ep model.Endpoint
		if !decodeBodyOrWriteInvalid(w, r, &ep) {
			return
		}
		if err := ep.Normalize(); err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		result := f.TestSingleEndpoint(r.Context(), ep)
		WriteJSON(w, http.StatusOK, result)
	}
}
