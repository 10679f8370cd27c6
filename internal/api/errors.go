package api

import "net/http"

// Error codes returned in the {"error": code} response body. Clients branch
// on the code; the HTTP status is advisory.
const (
	CodeUnauthorized       = "unauthorized"
	CodeStreamKeyMissing   = "stream_key_missing"
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeSpawnFailure       = "spawn_failure"
	CodeCatalogUnavailable = "catalog_unavailable"
	CodeInvalidRequest     = "invalid_request"
	CodeConflict           = "conflict"
	CodeMethodNotAllowed   = "method_not_allowed"
	CodeInternal           = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeErrorCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeErrorCode(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed)
}
