package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every error answer
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessResponse wraps successful payloads under "data"
type SuccessResponse struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// errorCodes maps a status to its error code and the message used when none is given
var errorCodes = map[int]struct{ code, message string }{
	http.StatusBadRequest:          {"bad_request", "Bad request"},
	http.StatusUnauthorized:        {"unauthorized", "Unauthenticated"},
	http.StatusForbidden:           {"forbidden", "Insufficient permissions"},
	http.StatusNotFound:            {"not_found", "Resource not found"},
	http.StatusConflict:            {"conflict", "Conflict"},
	http.StatusInternalServerError: {"internal_error", "Internal server error"},
}

// WriteJSON writes data as JSON with the given status. nil data writes no body.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes data under "data" with 200
func WriteOK(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteNoContent writes an empty 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes an ErrorResponse. Unknown statuses use the internal_error code.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]any) error {
	entry, ok := errorCodes[status]
	if !ok {
		entry = errorCodes[http.StatusInternalServerError]
	}
	if message == "" {
		message = entry.message
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   entry.code,
		Message: message,
		Details: details,
	})
}

// WriteBadRequest writes a 400
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]any) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401. Auth failures of every kind share this body.
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

// WriteForbidden writes a 403
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusForbidden, message, nil)
}

// WriteNotFound writes a 404
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, message, nil)
}

// WriteInternalServerError writes a 500
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusInternalServerError, message, nil)
}
