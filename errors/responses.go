package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body the status server writes for failures.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// WriteError writes err as a JSON ErrorResponse with the given status.
// The request id is taken from the X-Request-ID response header when set.
func WriteError(w http.ResponseWriter, status int, err *ActorError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Type:      err.Type,
		Message:   err.Message,
		RequestID: w.Header().Get("X-Request-ID"),
		Details:   err.Details,
	})
}

// ErrorWithType is a drop-in replacement for http.Error that writes a
// typed JSON error body.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, status int) {
	WriteError(w, status, &ActorError{Type: errType, Message: message})
}
