// Package response writes the JSON envelopes shared by every handler.
package response

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorBody is the body of every error response
type ErrorBody struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// JSON writes v with the given status code
func JSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes an error body with a machine-readable code
func Error(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	JSON(w, statusCode, ErrorBody{
		Success:   false,
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// Decode reads a JSON request body into dst, rejecting unknown fields and bodies over 1MB
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
