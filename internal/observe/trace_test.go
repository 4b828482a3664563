package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

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
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSave_RecordsWindowAndQueueWait(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSave(context.Background(), 150, 16000, 1500*time.Millisecond)
	Finish(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != SpanSave {
		t.Fatalf("spans = %v, want one %s", spans, SpanSave)
	}
	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	want := map[string]int64{
		"clip.window.frames":      150,
		"clip.window.audio_bytes": 16000,
		"clip.queue_wait_ms":      1500,
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("%s = %d, want %d", k, attrs[k], v)
		}
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status.Code)
	}
}

func TestFinish_MarksFailure(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartSpan(context.Background(), "clip.encode")
	Finish(span, errors.New("ffmpeg exited with status 1"))

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != "ffmpeg exited with status 1" {
		t.Errorf("status = %+v", s.Status)
	}
	if len(s.Events) == 0 || s.Events[0].Name != "exception" {
		t.Errorf("events = %v, want a recorded exception", s.Events)
	}
}

func TestLogger_GroupsTraceIDs(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartSave(context.Background(), 1, 0, 0)
	defer span.End()

	Logger(ctx).Info("clip: saved")
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("trace.id="+span.SpanContext().TraceID().String())) ||
		!bytes.Contains(buf.Bytes(), []byte("trace.span=")) {
		t.Errorf("log output missing trace group: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("clip: saved")
	if bytes.Contains(buf.Bytes(), []byte("trace.")) {
		t.Errorf("log output without span has trace group: %s", buf.String())
	}
}
