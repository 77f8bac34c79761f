package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey is a private type to avoid collisions with other packages' context keys.
type ctxKey string

const (
	// traceIDKey stores the request trace_id, normally minted at the gateway.
	traceIDKey ctxKey = "trace_id"

	// correlationIDKey stores the correlation_id linking operations that
	// belong to the same business flow (e.g. every step of one payment).
	correlationIDKey ctxKey = "correlation_id"

	// loggerKey stores a derived logger carried through the call chain.
	loggerKey ctxKey = "logger"
)

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace_id, or "" if unset.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCorrelationID attaches a correlation_id to the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation_id, or "" if unset.
func CorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// WithLogger attaches a pre-configured logger to the context.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the context's logger, enriched with trace_id and
// correlation_id fields when present. Falls back to the global logger if
// none was explicitly attached. This is the usual way to obtain a logger
// inside handlers and services:
//
//	log := logger.FromContext(ctx)
//	log.Info().Str("payment_id", paymentID).Msg("authorization started")
func FromContext(ctx context.Context) zerolog.Logger {
	var l zerolog.Logger
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	} else {
		l = log
	}

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		l = l.With().Str("correlation_id", correlationID).Logger()
	}

	return l
}

// Ctx returns a *zerolog.Logger from the context, mirroring zerolog.Ctx().
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs attaches both trace_id and correlation_id in one call.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
