package observability

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger returns a zerolog.Logger enriched with trace_id/span_id
// from ctx, used for per-request access logging in cmd/ entrypoints —
// distinct from internal/logging's component logger, which logs business
// events rather than request/response lines.
func RequestLogger(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &l
	}
	l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	if sc.HasSpanID() {
		l = l.With().Str("span_id", sc.SpanID().String()).Logger()
	}
	if sc.IsSampled() {
		l = l.With().Bool("trace_sampled", true).Logger()
	}
	return &l
}
