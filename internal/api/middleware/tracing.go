package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lockergrid/core/internal/telemetry"
)

// Tracing starts a server span per request, extracting W3C trace
// context from incoming headers so gateway/kiosk/panel calls chain
// into one trace.
func Tracing(tracerName string) func(http.Handler) http.Handler {
	tracer := telemetry.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			mw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(mw, r.WithContext(ctx))

			if mw.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(mw.status))
			}
		})
	}
}
