// Package handlers implements the HTTP API endpoints. Handlers decode the
// request, call the shared service operation and encode the result; all
// semantics live in the service so the stdio command protocol stays a
// mirror of this surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// ErrorBody is the error envelope every failed request carries.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure category and describes it.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone; nothing better to do than a bare error line.
		http.Error(w, `{"error":{"code":"internal","message":"failed to encode response"}}`, http.StatusInternalServerError)
	}
}

// writeError maps an operation error to its status code and writes the
// error envelope.
func writeError(w http.ResponseWriter, err error) {
	code, status := service.Classify(err)
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

// decodeJSON decodes a JSON request body into v. On failure it writes a
// validation error and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, service.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}
