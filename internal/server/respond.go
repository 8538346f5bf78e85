package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Error codes carried in the envelope
const (
	codeBadRequest  = "BAD_REQUEST"
	codeInvalid     = "INVALID_CHAIN"
	codeTooLarge    = "PAYLOAD_TOO_LARGE"
	codeNotFound    = "NOT_FOUND"
	codeRateLimited = "RATE_LIMITED"
	codeUnavailable = "UNAVAILABLE"
	codeInternal    = "INTERNAL"
)

// errorEnvelope is the body of every non-2xx JSON response
type errorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable"`
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{
		Code:      code,
		Message:   message,
		Retryable: retryable(status),
	})
}

// writeRequestError is writeError with the request ID attached
func writeRequestError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	env := errorEnvelope{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
		Retryable: retryable(status),
	}
	writeJSON(w, status, env)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeRequestError(w, r, http.StatusTooManyRequests, codeRateLimited, "too many error submissions")
}
