package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voiceclip"

// SpanSave names the span covering one clip save.
const SpanSave = "clip.save"

// Tracer returns the voiceclip tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSave starts a [SpanSave] span for a snapshot of frames video frames
// and pcmBytes of audio that waited in the save queue for queued.
func StartSave(ctx context.Context, frames, pcmBytes int, queued time.Duration) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSave, trace.WithAttributes(
		attribute.Int("clip.window.frames", frames),
		attribute.Int("clip.window.audio_bytes", pcmBytes),
		attribute.Int64("clip.queue_wait_ms", queued.Milliseconds()),
	))
}

// Finish marks span failed when err is non-nil and ends it.
func Finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Logger returns the default logger. When ctx carries a recording span the
// logger adds a "trace" group with its trace and span IDs.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return slog.Default()
	}
	return slog.Default().With(slog.Group("trace",
		slog.String("id", sc.TraceID().String()),
		slog.String("span", sc.SpanID().String()),
	))
}
