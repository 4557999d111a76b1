package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_SetsCorrelationID(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "synth.resolve")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "synth.resolve" {
		t.Fatalf("spans = %+v, want one named synth.resolve", spans)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	exp := useTestTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed")
	EndSpan(failed, errors.New("backend down"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful span marked as error")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "backend down" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span has no error event")
	}
}

func TestLogger_IncludesTraceID(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()
	Logger(ctx).Info("playing utterance")

	logged := buf.String()
	for _, want := range []string{"trace_id=", "span_id="} {
		if !bytes.Contains([]byte(logged), []byte(want)) {
			t.Errorf("log output missing %s, got: %s", want, logged)
		}
	}
}

func TestLogger_NoSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log output should not contain trace_id, got: %s", buf.String())
	}
}

func TestWithSession_TagsLogsAndSpans(t *testing.T) {
	exp := useTestTracer(t)
	buf := captureLogs(t)

	ctx := WithSession(context.Background(), "vc-1", "g-1")
	if got := SessionID(ctx); got != "vc-1" {
		t.Errorf("SessionID = %q, want vc-1", got)
	}
	Logger(ctx).Info("queued")
	_, span := StartSpan(ctx, "synth.Resolve")
	span.End()

	for _, want := range []string{"session_id=vc-1", "guild_id=g-1"} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("log output missing %s, got: %s", want, buf.String())
		}
	}
	attrs := map[string]string{}
	for _, kv := range exp.GetSpans()[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["session.id"] != "vc-1" || attrs["guild.id"] != "g-1" {
		t.Errorf("span attributes = %v", attrs)
	}
	if SessionID(context.Background()) != "" {
		t.Error("untagged context should have no session")
	}
}
