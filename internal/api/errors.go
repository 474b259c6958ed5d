package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anyfast/anyfast-core/internal/broker"
	"github.com/anyfast/anyfast-core/internal/hostsio"
)

// apiError is a lightweight error-code/message pair, replacing a richer
// service-layer error type this module has no use for — the façade
// (internal/facade) returns plain wrapped errors, not a typed hierarchy.
type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func invalidArgumentError(message string) *apiError {
	return &apiError{Code: "INVALID_ARGUMENT", Message: message}
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	writeAPIError(w, invalidArgumentError(message))
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		writePayloadTooLarge(w, tooLarge.Limit)
		return
	}
	writeInvalidArgument(w, err.Error())
}

func writeAPIError(w http.ResponseWriter, err *apiError) {
	status := http.StatusInternalServerError
	switch err.Code {
	case "INVALID_ARGUMENT":
		status = http.StatusBadRequest
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "PERMISSION_DENIED":
		status = http.StatusForbidden
	case "CONFLICT":
		status = http.StatusConflict
	}
	WriteError(w, status, err.Code, err.Message)
}

// writeFacadeError maps an error returned from internal/facade to an HTTP
// response, classifying the broker/hostsio sentinel errors the same way
// internal/pipesvc's dispatcher does (spec §7 error taxonomy).
func writeFacadeError(w http.ResponseWriter, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	switch {
	case errors.Is(err, broker.ErrPermissionDenied):
		WriteError(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error())
	case errors.Is(err, hostsio.ErrInvalidIP):
		WriteError(w, http.StatusBadRequest, "INVALID_IP", err.Error())
	case errors.Is(err, hostsio.ErrInvalidDomain):
		WriteError(w, http.StatusBadRequest, "INVALID_DOMAIN", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
