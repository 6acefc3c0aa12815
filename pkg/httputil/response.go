// Package httputil provides HTTP handler utilities for consistent error
// handling and JSON encoding.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/andina-labs/almacen/pkg/auth"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// WriteError writes a gateway error. Taxonomy errors carry their own
// status and code; anything else becomes a generic 500 so internal
// details are never echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	if e := auth.AsError(err); e != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(e.HTTPStatus())
		json.NewEncoder(w).Encode(ErrorResponse{Error: e.Message, Code: e.Code})
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// WriteValidationError writes a validation error response (400 Bad Request)
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, auth.NewValidation(message))
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, auth.NewForbidden(message))
}

// WriteNotFound writes a not found error response (404 Not Found)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, auth.NewNotFound(message))
}

// CopyBody streams a response body to the client. The status line is
// already written by the time this runs, so copy errors are dropped.
func CopyBody(w http.ResponseWriter, body io.Reader) {
	_, _ = io.Copy(w, body)
}

// DecodeJSON decodes a JSON request body into dst, rejecting unknown
// malformed payloads with a validation error.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return auth.NewValidation("invalid request body").WithCause(err)
	}
	return nil
}
