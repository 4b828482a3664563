package clip

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/window"
)

const (
	// DefaultMaxConcurrent is the default number of saves allowed to run at
	// once.
	DefaultMaxConcurrent = 2

	// DefaultQueueDepth is the default number of accepted saves that may wait
	// for a free slot.
	DefaultQueueDepth = 8
)

// Saver takes window snapshots and encodes them. *Writer satisfies it.
type Saver interface {
	Snapshot() window.Snapshot
	SaveSnapshot(ctx context.Context, snap window.Snapshot) (Result, error)
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrent bounds the number of in-flight saves. Values below 1
// are ignored.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithQueueDepth bounds the number of saves waiting for a free slot. Zero
// disables queueing; negative values are ignored.
func WithQueueDepth(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.queue = n
		}
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithOnResult registers a callback invoked after every dispatched save,
// including failed and empty ones.
func WithOnResult(fn func(Result, error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onResult = fn
	}
}

// Dispatcher runs saves as supervised background tasks. The window is
// snapshotted when a save is triggered; at most limit snapshots are encoded
// at once and up to queue more wait their turn in trigger order. A trigger
// is dropped only when the queue is full as well. Errors are logged here and
// never reach the caller.
type Dispatcher struct {
	saver    Saver
	limit    int
	queue    int
	metrics  *observe.Metrics
	onResult func(Result, error)

	slots chan struct{}
	g     errgroup.Group
}

// NewDispatcher creates a Dispatcher for saver.
func NewDispatcher(saver Saver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{saver: saver, limit: DefaultMaxConcurrent, queue: DefaultQueueDepth}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.slots = make(chan struct{}, d.limit)
	d.g.SetLimit(d.limit + d.queue)
	return d
}

// Trigger snapshots the window and schedules a save of it, reporting whether
// it was accepted. The save runs on a context detached from ctx's
// cancellation, so stopping the caller does not abort an encode in progress.
func (d *Dispatcher) Trigger(ctx context.Context) bool {
	ctx = context.WithoutCancel(ctx)
	snap := d.saver.Snapshot()
	if !d.g.TryGo(func() error {
		d.metrics.SavesQueued.Add(ctx, 1)
		queuedAt := time.Now()
		d.slots <- struct{}{}
		d.metrics.SavesQueued.Add(ctx, -1)
		defer func() { <-d.slots }()
		d.run(ctx, snap, time.Since(queuedAt))
		return nil
	}) {
		slog.Warn("clip: save dropped, save queue is full", "limit", d.limit, "queue", d.queue)
		d.metrics.RecordClip(ctx, observe.ClipDropped, 0)
		return false
	}
	return true
}

// Wait blocks until every dispatched save has finished.
func (d *Dispatcher) Wait() {
	_ = d.g.Wait()
}

func (d *Dispatcher) run(ctx context.Context, snap window.Snapshot, queued time.Duration) {
	ctx, span := observe.StartSave(ctx, len(snap.Frames), len(snap.PCM), queued)
	log := observe.Logger(ctx)

	d.metrics.SavesInFlight.Add(ctx, 1)
	defer d.metrics.SavesInFlight.Add(ctx, -1)

	start := time.Now()
	res, err := d.saver.SaveSnapshot(ctx, snap)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrNothingToSave):
		log.Info("clip: window is empty, nothing saved")
		d.metrics.RecordClip(ctx, observe.ClipEmpty, elapsed)
		observe.Finish(span, nil)
	case err != nil:
		log.Error("clip: save failed", "err", err, "elapsed", elapsed, "queued", queued)
		d.metrics.RecordClip(ctx, observe.ClipError, elapsed)
		observe.Finish(span, err)
	default:
		span.SetAttributes(
			attribute.String("clip.path", res.Path),
			attribute.Int("clip.frames", res.Frames),
		)
		log.Info("clip: saved",
			"path", res.Path,
			"counter", res.Counter,
			"frames", res.Frames,
			"audio_bytes", res.AudioBytes,
			"elapsed", elapsed,
			"queued", queued,
		)
		d.metrics.RecordClip(ctx, observe.ClipOK, elapsed)
		observe.Finish(span, nil)
	}

	if d.onResult != nil {
		d.onResult(res, err)
	}
}
