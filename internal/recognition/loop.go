// Package recognition runs the listen loop: it streams microphone audio into
// a speech-to-text session and hands every final transcript to the command
// detector.
//
// The loop moves through the states Init, OpenStream, Listening and
// ProcessChunk, and ends in Stopped when its context is cancelled or the
// microphone cannot be opened. Failures on individual chunks are logged and
// skipped. A speech session that cannot be started or that ends is
// reconnected with backoff; chunks read while no session exists are dropped.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/voicecmd"
	"github.com/MrWong99/voiceclip/pkg/audio/mic"
	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

// Reconnect backoff defaults. The first reconnect after a session ends is
// immediate; later consecutive attempts wait twice as long each time.
const (
	DefaultRetryMin = 250 * time.Millisecond
	DefaultRetryMax = 30 * time.Second
)

// State is the loop's lifecycle state.
type State int32

const (
	StateInit State = iota
	StateOpenStream
	StateListening
	StateProcessChunk
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpenStream:
		return "open_stream"
	case StateListening:
		return "listening"
	case StateProcessChunk:
		return "process_chunk"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer decides what to do with a transcript. *voicecmd.Detector
// satisfies it.
type Observer interface {
	Observe(text string) voicecmd.Decision
}

// TriggerFunc is called for every accepted command. It must not block.
type TriggerFunc func(ctx context.Context)

// Option configures a [Loop].
type Option func(*Loop)

// WithMicConfig overrides the capture format. Zero fields keep the 16 kHz
// mono 2048-frame defaults.
func WithMicConfig(cfg mic.Config) Option {
	return func(l *Loop) {
		l.micCfg = cfg.WithDefaults()
	}
}

// WithLanguage sets the transcription language passed to the provider.
func WithLanguage(lang string) Option {
	return func(l *Loop) {
		l.language = lang
	}
}

// WithPrompt sets the recognition hint passed to the provider, typically the
// trigger vocabulary.
func WithPrompt(prompt string) Option {
	return func(l *Loop) {
		l.prompt = prompt
	}
}

// WithRetryBackoff sets the reconnect delay bounds for the speech session.
// Defaults: [DefaultRetryMin] and [DefaultRetryMax].
func WithRetryBackoff(minDelay, maxDelay time.Duration) Option {
	return func(l *Loop) {
		l.retryMin = max(minDelay, 0)
		l.retryMax = max(maxDelay, l.retryMin)
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// Loop is a single-use recognition loop. Create a new one for every listen
// session.
type Loop struct {
	source   mic.Source
	provider stt.Provider
	observer Observer
	trigger  TriggerFunc

	micCfg   mic.Config
	language string
	prompt   string
	retryMin time.Duration
	retryMax time.Duration
	metrics  *observe.Metrics
	now      func() time.Time

	state     atomic.Int32
	connected atomic.Bool
}

// New creates a Loop. trigger is called for every accepted command.
func New(source mic.Source, provider stt.Provider, observer Observer, trigger TriggerFunc, opts ...Option) *Loop {
	l := &Loop{
		source:   source,
		provider: provider,
		observer: observer,
		trigger:  trigger,
		micCfg:   mic.Config{}.WithDefaults(),
		retryMin: DefaultRetryMin,
		retryMax: DefaultRetryMax,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// SessionActive reports whether a speech session is currently open.
func (l *Loop) SessionActive() bool { return l.connected.Load() }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run listens until ctx is cancelled, returning nil in that case. It returns
// an error only if the microphone cannot be opened or its stream ends. The
// stream and any open session are released on every exit path.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateInit)
	defer l.setState(StateStopped)

	l.setState(StateOpenStream)
	stream, err := l.source.Open(ctx, l.micCfg)
	if err != nil {
		slog.Error("recognition: failed to open microphone", "device", l.micCfg.Device, "err", err)
		return fmt.Errorf("recognition: open microphone: %w", err)
	}
	defer stream.Close()

	sc := &sessionConn{loop: l}
	defer sc.close()
	sc.connect(ctx)

	slog.Info("recognition: listening",
		"sample_rate", l.micCfg.SampleRate,
		"chunk_frames", l.micCfg.ChunkFrames,
		"session", sc.sess != nil,
	)
	l.setState(StateListening)

	for {
		chunk, err := stream.Read(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, mic.ErrOverflow):
			slog.Debug("recognition: microphone overflow, chunks dropped")
			continue
		case errors.Is(err, mic.ErrClosed):
			slog.Error("recognition: microphone stream ended", "err", err)
			return fmt.Errorf("recognition: read microphone: %w", err)
		case err != nil:
			slog.Warn("recognition: failed to read chunk", "err", err)
			l.metrics.RecordChunkError(ctx, "read")
			continue
		}

		l.setState(StateProcessChunk)
		sc.connect(ctx)
		if sc.sess == nil {
			l.metrics.RecordChunkError(ctx, "no_session")
			l.setState(StateListening)
			continue
		}

		alive := true
		if err := sc.sess.SendAudio(chunk); err != nil {
			if errors.Is(err, stt.ErrSessionClosed) {
				alive = false
			} else {
				slog.Warn("recognition: failed to send chunk", "err", err)
				l.metrics.RecordChunkError(ctx, "send")
			}
		}
		got, open := l.drain(ctx, sc.sess)
		if got {
			sc.failures = 0
		}
		if !alive || !open {
			sc.lost(ctx)
			sc.connect(ctx)
		}
		l.setState(StateListening)
	}
}

// backoff returns the delay before reconnect attempt n, counted from 1 for
// the first attempt after a failure.
func (l *Loop) backoff(n int) time.Duration {
	if n <= 1 || l.retryMin == 0 {
		return 0
	}
	d := l.retryMin
	for i := 2; i < n && d < l.retryMax; i++ {
		d *= 2
	}
	return min(d, l.retryMax)
}

// sessionConn tracks the current speech session and its reconnect schedule.
// It is owned by the Run goroutine.
type sessionConn struct {
	loop     *Loop
	sess     stt.SessionHandle
	since    time.Time
	failures int
	next     time.Time
}

// connect starts a session unless one is open or the next attempt is not
// due yet. Failures are logged and scheduled for retry.
func (c *sessionConn) connect(ctx context.Context) {
	l := c.loop
	if c.sess != nil || l.now().Before(c.next) {
		return
	}
	sess, err := l.startSession(ctx)
	if err != nil {
		c.failures++
		wait := l.backoff(c.failures)
		c.next = l.now().Add(wait)
		l.metrics.RecordSession(ctx, observe.SessionFailed)
		slog.Warn("recognition: failed to start speech session, retrying",
			"attempt", c.failures, "retry_in", wait, "err", err)
		return
	}
	c.sess = sess
	c.since = l.now()
	l.connected.Store(true)
	l.metrics.RecordSession(ctx, observe.SessionStarted)
}

// lost closes an ended session and schedules the reconnect.
func (c *sessionConn) lost(ctx context.Context) {
	l := c.loop
	if l.now().Sub(c.since) >= l.retryMax {
		c.failures = 0
	}
	c.close()
	c.failures++
	wait := l.backoff(c.failures)
	c.next = l.now().Add(wait)
	l.metrics.RecordSession(ctx, observe.SessionEnded)
	slog.Warn("recognition: speech session ended, reconnecting", "attempt", c.failures, "retry_in", wait)
}

func (c *sessionConn) close() {
	if c.sess != nil {
		_ = c.sess.Close()
		c.sess = nil
	}
	c.loop.connected.Store(false)
}

func (l *Loop) startSession(ctx context.Context) (stt.SessionHandle, error) {
	sess, err := l.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: l.micCfg.SampleRate,
		Channels:   l.micCfg.Channels,
		Language:   l.language,
		Prompt:     l.prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("recognition: start speech session: %w", err)
	}
	return sess, nil
}

// drain handles every final transcript that is already available without
// blocking. It reports whether any arrived and whether the channel is still
// open.
func (l *Loop) drain(ctx context.Context, sess stt.SessionHandle) (got, open bool) {
	finals := sess.Finals()
	for {
		select {
		case tr, ok := <-finals:
			if !ok {
				return got, false
			}
			got = true
			l.handle(ctx, tr)
		default:
			return got, true
		}
	}
}

func (l *Loop) handle(ctx context.Context, tr stt.Transcript) {
	l.metrics.Transcripts.Add(ctx, 1)
	dec := l.observer.Observe(tr.Text)
	l.metrics.RecordTrigger(ctx, dec.Outcome.String())

	switch dec.Outcome {
	case voicecmd.Ignored:
	case voicecmd.NoMatch:
		slog.Debug("recognition: no command in transcript", "text", dec.Normalized)
	case voicecmd.Cooldown:
		slog.Info("recognition: command ignored during cooldown", "text", dec.Normalized, "wait", dec.Wait)
	case voicecmd.Duplicate:
		slog.Info("recognition: duplicate command ignored", "text", dec.Normalized)
	case voicecmd.Accepted:
		slog.Info("recognition: clip command detected",
			"text", dec.Normalized,
			"token", dec.Match.Token,
			"score", dec.Match.Score,
			"confidence", tr.Confidence,
		)
		l.trigger(ctx)
	}
}
