package clip

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/window"
)

type stubSaver struct {
	calls   atomic.Int32
	snaps   atomic.Int64
	err     error
	release chan struct{}
	started chan int64
	ctxErr  atomic.Value
}

// Snapshot returns a snapshot whose frame rate numbers the trigger.
func (s *stubSaver) Snapshot() window.Snapshot {
	n := s.snaps.Add(1)
	return window.Snapshot{Spec: window.Spec{FrameRate: int(n)}}
}

func (s *stubSaver) SaveSnapshot(ctx context.Context, snap window.Snapshot) (Result, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- int64(snap.Spec.FrameRate)
	}
	if s.release != nil {
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		s.ctxErr.Store(err)
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{Path: "/clips/clip.mp4", Frames: 3}, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDispatcher_RunsSaveAndReportsResult(t *testing.T) {
	t.Parallel()

	s := &stubSaver{}
	var (
		mu      sync.Mutex
		results []Result
	)
	d := NewDispatcher(s, WithMetrics(testMetrics(t)), WithOnResult(func(r Result, err error) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	if !d.Trigger(context.Background()) {
		t.Fatal("Trigger rejected with free capacity")
	}
	d.Wait()

	if s.calls.Load() != 1 {
		t.Errorf("Save calls = %d, want 1", s.calls.Load())
	}
	if len(results) != 1 || results[0].Path != "/clips/clip.mp4" {
		t.Errorf("results = %+v", results)
	}
}

func TestDispatcher_QueuesBeyondLimit(t *testing.T) {
	t.Parallel()

	s := &stubSaver{release: make(chan struct{}), started: make(chan int64, 4)}
	d := NewDispatcher(s, WithMaxConcurrent(2), WithMetrics(testMetrics(t)))

	for i := range 3 {
		if !d.Trigger(context.Background()) {
			t.Fatalf("Trigger %d rejected", i+1)
		}
	}
	<-s.started
	<-s.started
	select {
	case n := <-s.started:
		t.Fatalf("save %d started while both slots were busy", n)
	case <-time.After(20 * time.Millisecond):
	}

	s.release <- struct{}{}
	select {
	case n := <-s.started:
		if n != 3 {
			t.Errorf("queued save used snapshot %d, want 3", n)
		}
	case <-time.After(time.Second):
		t.Fatal("queued save never started")
	}
	close(s.release)
	d.Wait()

	if got := s.calls.Load(); got != 3 {
		t.Errorf("Save calls = %d, want 3", got)
	}
}

func TestDispatcher_SnapshotTakenAtTrigger(t *testing.T) {
	t.Parallel()

	s := &stubSaver{release: make(chan struct{}), started: make(chan int64, 2)}
	d := NewDispatcher(s, WithMaxConcurrent(1), WithMetrics(testMetrics(t)))

	d.Trigger(context.Background())
	d.Trigger(context.Background())
	if got := s.snaps.Load(); got != 2 {
		t.Errorf("snapshots after two triggers = %d, want 2", got)
	}
	close(s.release)
	d.Wait()
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	s := &stubSaver{release: make(chan struct{}), started: make(chan int64, 4)}
	d := NewDispatcher(s, WithMaxConcurrent(1), WithQueueDepth(1), WithMetrics(testMetrics(t)))

	if !d.Trigger(context.Background()) {
		t.Fatal("first Trigger rejected")
	}
	<-s.started
	if !d.Trigger(context.Background()) {
		t.Fatal("second Trigger rejected with a free queue slot")
	}
	if d.Trigger(context.Background()) {
		t.Error("third Trigger accepted with a full queue")
	}
	close(s.release)
	d.Wait()

	if !d.Trigger(context.Background()) {
		t.Error("Trigger rejected after the queue drained")
	}
	d.Wait()
	if got := s.calls.Load(); got != 3 {
		t.Errorf("Save calls = %d, want 3", got)
	}
}

func TestDispatcher_ZeroQueueDepthDropsBeyondLimit(t *testing.T) {
	t.Parallel()

	s := &stubSaver{release: make(chan struct{}), started: make(chan int64, 2)}
	d := NewDispatcher(s, WithMaxConcurrent(1), WithQueueDepth(0), WithMetrics(testMetrics(t)))

	d.Trigger(context.Background())
	<-s.started
	if d.Trigger(context.Background()) {
		t.Error("Trigger accepted beyond the limit with queueing disabled")
	}
	close(s.release)
	d.Wait()
}

func TestDispatcher_SaveSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	s := &stubSaver{release: make(chan struct{}), started: make(chan int64, 1)}
	d := NewDispatcher(s, WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	d.Trigger(ctx)
	<-s.started
	cancel()
	close(s.release)
	d.Wait()

	if err := s.ctxErr.Load(); err != nil {
		t.Errorf("save context cancelled: %v", err)
	}
}

func TestDispatcher_ErrorsAreContained(t *testing.T) {
	t.Parallel()

	for _, saveErr := range []error{ErrNothingToSave, errors.New("encode failed")} {
		s := &stubSaver{err: saveErr}
		var got error
		d := NewDispatcher(s, WithMetrics(testMetrics(t)), WithOnResult(func(_ Result, err error) { got = err }))
		d.Trigger(context.Background())
		d.Wait()
		if !errors.Is(got, saveErr) {
			t.Errorf("OnResult err = %v, want %v", got, saveErr)
		}
	}
}
