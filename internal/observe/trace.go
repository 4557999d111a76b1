package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jinwktk/YomiageBotAlpha"

// Tracer returns the bot's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a voice session (see
// [WithSession]) the span is tagged with its session and guild IDs. The
// caller ends the span, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if s, ok := ctx.Value(sessionKey{}).(sessionTag); ok {
		opts = append(opts, trace.WithAttributes(
			attribute.String("session.id", s.sessionID),
			attribute.String("guild.id", s.guildID),
		))
	}
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ─── Session tagging ─────────────────────────────────────────────────────────

type sessionKey struct{}

type sessionTag struct {
	sessionID string
	guildID   string
}

// WithSession returns a copy of ctx tagged with a voice session. Every
// goroutine of a session runs under such a context, so its logs and spans
// can be filtered per voice channel.
func WithSession(ctx context.Context, sessionID, guildID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionTag{sessionID: sessionID, guildID: guildID})
}

// SessionID returns the session ID set by [WithSession], or "".
func SessionID(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(sessionTag)
	return s.sessionID
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the session tag and the active
// trace and span IDs from ctx attached, when present.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if s, ok := ctx.Value(sessionKey{}).(sessionTag); ok {
		attrs = append(attrs, slog.String("session_id", s.sessionID), slog.String("guild_id", s.guildID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
