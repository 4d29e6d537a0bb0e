// ABOUTME: JSON envelope helpers for the status API
// ABOUTME: Every status API response is {success, data, error, message}
package web

import (
	"encoding/json"
	"net/http"
)

// Response is the status API envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes a successful envelope.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// Message writes a successful envelope with a human message.
func Message(w http.ResponseWriter, data any, msg string) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data, Message: msg})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: data})
}

// Error writes a failed envelope.
func Error(w http.ResponseWriter, status int, err string) {
	writeJSON(w, status, Response{Success: false, Error: err})
}

func BadRequest(w http.ResponseWriter, err string)    { Error(w, http.StatusBadRequest, err) }
func NotFound(w http.ResponseWriter, err string)      { Error(w, http.StatusNotFound, err) }
func Unauthorized(w http.ResponseWriter, err string)  { Error(w, http.StatusUnauthorized, err) }
func InternalError(w http.ResponseWriter, err string) { Error(w, http.StatusInternalServerError, err) }
