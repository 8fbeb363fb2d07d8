package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	traceIDKey   ctxKey = "trace_id"
	kioskIDKey   ctxKey = "kiosk_id"
	lockerIDKey  ctxKey = "locker_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithTraceID stores the provided trace ID in the context.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// ContextWithKiosk stores the kiosk ID in the context.
func ContextWithKiosk(ctx context.Context, kioskID string) context.Context {
	return context.WithValue(ctx, kioskIDKey, kioskID)
}

// ContextWithLocker stores the locker ID in the context.
func ContextWithLocker(ctx context.Context, lockerID string) context.Context {
	return context.WithValue(ctx, lockerIDKey, lockerID)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// TraceIDFromContext extracts the trace ID from context if present.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches logger with correlation fields carried on ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	b := logger.With()
	added := false
	if v := RequestIDFromContext(ctx); v != "" {
		b = b.Str("request_id", v)
		added = true
	}
	if v := TraceIDFromContext(ctx); v != "" {
		b = b.Str("trace_id", v)
		added = true
	}
	if v, ok := ctx.Value(kioskIDKey).(string); ok && v != "" {
		b = b.Str("kiosk_id", v)
		added = true
	}
	if v, ok := ctx.Value(lockerIDKey).(string); ok && v != "" {
		b = b.Str("locker_id", v)
		added = true
	}
	if !added {
		return logger
	}
	return b.Logger()
}

// FromContext returns a correlation-enriched logger derived from the base
// process logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := WithContext(ctx, *L())
	return &l
}
