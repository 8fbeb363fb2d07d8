package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lockergrid/core/internal/log"
)

// JSON writes v as the response body with status code, logging encode
// failures rather than returning them (the header is already sent).
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("api: encode response")
	}
}

// errorBody is the wire shape for every non-2xx response (spec §7).
type errorBody struct {
	ErrorCode   string `json:"error_code"`
	Message     string `json:"message"`
	TraceID     string `json:"trace_id"`
	ZoneContext string `json:"zone_context,omitempty"`
	RetryAfter  int    `json:"retry_after_seconds,omitempty"`
}

// WriteError renders *Error at the HTTP boundary and audits 5xx paths
// with full context, per spec §7's propagation policy.
func WriteError(w http.ResponseWriter, r *http.Request, err *Error) {
	if err.Status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error().
			Str("error_code", err.Code).
			Str("trace_id", err.TraceID).
			Str("path", r.URL.Path).
			Msg("api: internal error")
	}
	w.Header().Set("X-Trace-Id", err.TraceID)
	JSON(w, r, err.Status, errorBody{ErrorCode: err.Code, Message: err.Message, TraceID: err.TraceID})
}

// WriteRateLimited renders a 429 with Retry-After, without error-level
// logging — spec §7 treats rate limiting as counter-only.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	JSON(w, r, http.StatusTooManyRequests, errorBody{
		ErrorCode:  "RATE_LIMIT",
		Message:    "too many requests",
		RetryAfter: retryAfterSeconds,
	})
}
