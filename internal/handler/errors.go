package handler

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Client-visible error messages.
const (
	msgRateLimited       = "rate limit exceeded"
	msgLimiterDown       = "rate limiter unavailable"
	msgNotFound          = "not found"
	msgMethodNotAllowed  = "method not allowed"
	msgMissingUploadPart = "No file part in the request"
	msgBodyTooLarge      = "request body too large"
	msgBodyUnreadable    = "failed to read request body"
)

// ErrMissingUploadPart is returned when a route requires a file part the request lacks.
var ErrMissingUploadPart = errors.New("missing upload part")

// ErrorResponse is the JSON body of every gateway-originated error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
