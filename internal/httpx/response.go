// Package httpx holds the JSON response envelope shared by every endpoint.
//
// Every response carries the request id so clients can quote it when
// reporting problems:
//
//	{"success": true,  "data": {...}, "requestId": "..."}
//	{"success": false, "error": "...", "code": "...", "details": ..., "requestId": "..."}
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID echoes the request id on every response.
const HeaderRequestID = "X-Request-ID"

// Success is the envelope for successful responses.
type Success struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	RequestID string `json:"requestId"`
}

// Failure is the envelope for error responses.
type Failure struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId"`
}

func NewRequestID() string { return uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes data in the success envelope.
func WriteSuccess(w http.ResponseWriter, status int, requestID string, data any) {
	WriteJSON(w, status, Success{
		Success:   true,
		Data:      data,
		RequestID: requestID,
	})
}

// WriteError writes the error envelope. details is omitted when nil.
func WriteError(w http.ResponseWriter, status int, requestID, code, message string, details any) {
	WriteJSON(w, status, Failure{
		Success:   false,
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: requestID,
	})
}
