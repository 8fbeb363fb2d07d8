package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lockergrid/core/internal/log"
)

// Logging emits one structured access-log line per request, correlated
// with chi's request id and any trace id already on the context.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			ctx := log.ContextWithRequestID(r.Context(), chimw.GetReqID(r.Context()))
			next.ServeHTTP(mw, r.WithContext(ctx))

			log.FromContext(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", mw.status).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("http request")
		})
	}
}
