// Package respond provides JSON response helpers and the HTTP error
// vocabulary for the API.
//
// Status conventions:
//   - 400 validation failure (missing/malformed fields, bad ids)
//   - 401 no authenticated user
//   - 403 rank check failed (caller known, insufficient role)
//   - 404 referenced thread/message/membership does not exist
//   - 409 edit lock held by another user (retry-with-backoff is reasonable
//     here and only here)
//   - 502 a backing dependency failed
//
// Denial (403) is always distinguishable from absence (404) so clients can
// tell "you may not" from "there is no such thing".
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// errorBody is the envelope for every non-2xx response.
type errorBody struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads the request body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.RequestID = "req_" + uuid.NewString()
	body.Error.Code = code
	body.Error.Message = message
	JSON(w, status, body)
}

// Unauthorized signals a request with no authenticated user.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "unauthorized", "sign in required")
}

// Forbidden signals a failed rank check.
func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "you do not have permission to do that"
	}
	Error(w, http.StatusForbidden, "forbidden", message)
}

// NotFound signals a missing thread, message, or membership.
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	Error(w, http.StatusNotFound, "not_found", message)
}

// Conflict signals an edit lock held by another user.
func Conflict(w http.ResponseWriter, message string) {
	if message == "" {
		message = "resource is busy"
	}
	Error(w, http.StatusConflict, "conflict", message)
}

// Invalid signals a validation failure caught before any store access.
func Invalid(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "invalid_request", message)
}

// Dependency signals a store or external-service failure. The underlying
// error is logged by the caller, never leaked to the client.
func Dependency(w http.ResponseWriter) {
	Error(w, http.StatusBadGateway, "dependency_failure", "a backing service failed")
}
