package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// GlobalRateLimit applies a coarse per-IP ingress cap ahead of the
// domain-specific QR/RFID limiters (internal/ratelimit), so a single
// noisy client can't exhaust connections before the sliding-window
// limiter ever sees the request.
func GlobalRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
