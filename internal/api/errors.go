package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joao-cbj/silo-watch-backend/internal/provisioning"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// RemoteCode is the gateway's status code for remote_error responses.
	RemoteCode string `json:"remote_code,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeGatewayTimeout     = "gateway_timeout"
	ErrCodeGatewayUnavailable = "gateway_unavailable"
	ErrCodeRemote             = "remote_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 validation error response.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeProvisioningError maps an orchestrator error to its HTTP response.
// It reports false for errors outside the provisioning classes, which the
// caller logs and turns into a 500.
func writeProvisioningError(w http.ResponseWriter, err error) bool {
	if re, ok := provisioning.IsRemoteError(err); ok {
		writeJSON(w, http.StatusBadRequest, Error{
			Status:     http.StatusBadRequest,
			Code:       ErrCodeRemote,
			Message:    re.Message,
			RemoteCode: re.Code,
		})
		return true
	}

	switch {
	case errors.Is(err, provisioning.ErrValidation):
		writeValidationError(w, err.Error())
	case errors.Is(err, provisioning.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, provisioning.ErrConflict):
		writeConflict(w, err.Error())
	case errors.Is(err, provisioning.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, ErrCodeGatewayTimeout, "gateway did not respond in time")
	case errors.Is(err, provisioning.ErrTransport):
		writeError(w, http.StatusServiceUnavailable, ErrCodeGatewayUnavailable, err.Error())
	default:
		return false
	}
	return true
}
