// Package observe provides the metrics, tracing and HTTP middleware shared by
// the voiceclip components.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [Setup]. [DefaultMetrics] uses the global
// meter provider; tests should build their own with [NewMetrics] and a
// [sdkmetric.ManualReader].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voiceclip"

// Clip status attribute values.
const (
	ClipOK      = "ok"
	ClipEmpty   = "empty"
	ClipError   = "error"
	ClipDropped = "dropped"
)

// Speech session event attribute values.
const (
	SessionStarted = "started"
	SessionFailed  = "failed"
	SessionEnded   = "ended"
)

// Metrics holds every instrument used by the application.
type Metrics struct {
	// Triggers counts detector decisions. Attributes: outcome.
	Triggers metric.Int64Counter

	// Transcripts counts final transcripts received from the STT session.
	Transcripts metric.Int64Counter

	// ChunkErrors counts microphone and STT send failures. Attributes: kind.
	ChunkErrors metric.Int64Counter

	// Sessions counts speech session starts, failed starts and unexpected
	// ends. Attributes: event.
	Sessions metric.Int64Counter

	// Clips counts save attempts by result. Attributes: status.
	Clips metric.Int64Counter

	// ClipDuration tracks how long a save takes from snapshot to finished
	// file.
	ClipDuration metric.Float64Histogram

	// SavesInFlight is the number of saves currently running.
	SavesInFlight metric.Int64UpDownCounter

	// SavesQueued is the number of accepted saves waiting for a free slot.
	SavesQueued metric.Int64UpDownCounter

	// CaptureFrames counts video frames pushed into the window.
	CaptureFrames metric.Int64Counter

	// HTTPRequestDuration tracks latency of the health and metrics endpoints.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// saveBuckets are histogram boundaries in seconds; encoding a 30 s window
// takes several seconds on typical hardware.
var saveBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Triggers, err = m.Int64Counter("voiceclip.triggers",
		metric.WithDescription("Detector decisions on final transcripts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voiceclip.transcripts",
		metric.WithDescription("Final transcripts received from speech recognition."),
	); err != nil {
		return nil, err
	}
	if met.ChunkErrors, err = m.Int64Counter("voiceclip.chunk.errors",
		metric.WithDescription("Audio chunk read and send failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("voiceclip.stt.sessions",
		metric.WithDescription("Speech session lifecycle events by kind."),
	); err != nil {
		return nil, err
	}
	if met.Clips, err = m.Int64Counter("voiceclip.clips",
		metric.WithDescription("Clip save attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ClipDuration, err = m.Float64Histogram("voiceclip.clip.duration",
		metric.WithDescription("Time to snapshot, spool and encode a clip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(saveBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SavesInFlight, err = m.Int64UpDownCounter("voiceclip.saves.inflight",
		metric.WithDescription("Number of clip saves currently running."),
	); err != nil {
		return nil, err
	}
	if met.SavesQueued, err = m.Int64UpDownCounter("voiceclip.saves.queued",
		metric.WithDescription("Number of accepted clip saves waiting to run."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("voiceclip.capture.frames",
		metric.WithDescription("Video frames pushed into the sliding window."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceclip.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTrigger counts one detector decision.
func (m *Metrics) RecordTrigger(ctx context.Context, outcome string) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordChunkError counts one failed or dropped chunk. kind is "read",
// "send" or "no_session".
func (m *Metrics) RecordChunkError(ctx context.Context, kind string) {
	m.ChunkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSession counts one speech session event, one of [SessionStarted],
// [SessionFailed] or [SessionEnded].
func (m *Metrics) RecordSession(ctx context.Context, event string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordClip counts one save attempt. Durations are recorded only for saves
// that reached the encoder.
func (m *Metrics) RecordClip(ctx context.Context, status string, elapsed time.Duration) {
	m.Clips.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == ClipOK || status == ClipError {
		m.ClipDuration.Record(ctx, elapsed.Seconds())
	}
}
