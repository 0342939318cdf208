package httpserver

import (
	"encoding/json"
	"net/http"
)

// User-facing failure messages.
const (
	msgNotAuthenticated = "Not authenticated"
	msgUnauthorized     = "401 Unauthorized"
	msgNotFound         = "We could not find what you're looking for :/"
	msgIDTaken          = "Uh-oh! This id is already registered. Please choose another id string."
	msgAccessProhibited = "You do not have permission to access this resource. Please contact your administrator for assistance."
	msgDefault          = "Something went wrong :/"
	msgUpdateFailed     = "Something went wrong :/ Error updating app"
	msgToggleFailed     = "Error updating app"
	msgInvalidJSON      = "Invalid JSON format"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Error: errorKind(status), Detail: detail})
}

func errorKind(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}
