// Package app wires the voiceclip subsystems into a running clipper.
//
// The Clipper owns the full lifecycle: New builds the sliding windows, the
// clip writer and dispatcher, the command detector and the listen manager;
// Run starts listening and capture and blocks until the context is done;
// Shutdown stops listening and waits for in-flight saves.
//
// For testing, inject doubles through [Deps] and the functional options
// ([WithEncoder], [WithFeed], etc.). When an option is not provided, New
// creates the ffmpeg-backed implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceclip/internal/capture"
	"github.com/MrWong99/voiceclip/internal/clip"
	"github.com/MrWong99/voiceclip/internal/config"
	"github.com/MrWong99/voiceclip/internal/encode"
	"github.com/MrWong99/voiceclip/internal/health"
	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/voicecmd"
	"github.com/MrWong99/voiceclip/internal/window"
	"github.com/MrWong99/voiceclip/pkg/audio/mic"
)

// ErrInvalidDuration is returned by [Clipper.SetBufferDuration] for
// non-positive durations.
var ErrInvalidDuration = errors.New("app: buffer duration must be positive")

// Deps holds the platform dependencies main.go builds from the config.
type Deps struct {
	// Mic opens the command microphone.
	Mic mic.Source

	// STT creates a speech-to-text provider at every listen start.
	STT STTFactory
}

// Clipper owns all subsystem lifetimes of the voice-triggered clipper.
type Clipper struct {
	pair       *window.Pair
	encoder    encode.Encoder
	writer     *clip.Writer
	dispatcher *clip.Dispatcher
	detector   *voicecmd.Detector
	feed       capture.Feed
	listener   *listenManager

	metrics  *observe.Metrics
	levelVar *slog.LevelVar
	onSave   func(clip.Result, error)

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Clipper)

// WithEncoder injects an encoder instead of creating an ffmpeg one.
func WithEncoder(e encode.Encoder) Option {
	return func(c *Clipper) { c.encoder = e }
}

// WithFeed injects a capture feed. It is run even when capture is disabled
// in the config.
func WithFeed(f capture.Feed) Option {
	return func(c *Clipper) { c.feed = f }
}

// WithMetrics sets the metrics recorder shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Clipper) { c.metrics = m }
}

// WithLevelVar lets [Clipper.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(c *Clipper) { c.levelVar = v }
}

// WithOnSave registers a callback invoked after every dispatched save.
func WithOnSave(fn func(clip.Result, error)) Option {
	return func(c *Clipper) { c.onSave = fn }
}

// New creates a Clipper by wiring all subsystems together. The output
// directory is created if absent.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Clipper, error) {
	if deps.Mic == nil || deps.STT == nil {
		return nil, errors.New("app: microphone and stt factory are required")
	}

	c := &Clipper{}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	outputDir := config.ExpandHome(cfg.Clip.OutputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create output dir: %w", err)
	}

	c.pair = window.NewPair(windowSpec(cfg))

	if c.encoder == nil {
		c.encoder = encode.NewFFmpeg(
			encode.WithPath(cfg.Encoder.FFmpegPath),
			encode.WithTimeout(cfg.Encoder.Timeout),
		)
	}
	c.writer = clip.NewWriter(c.pair, c.encoder, clip.Config{
		OutputDir:   outputDir,
		Format:      cfg.Clip.Format,
		Width:       cfg.Video.Width,
		Height:      cfg.Video.Height,
		PixelFormat: cfg.Video.PixelFormat,
	})

	dispatchOpts := []clip.DispatcherOption{
		clip.WithMaxConcurrent(cfg.Clip.MaxConcurrentSaves),
		clip.WithQueueDepth(cfg.Clip.QueuedSaves()),
		clip.WithMetrics(c.metrics),
	}
	if c.onSave != nil {
		dispatchOpts = append(dispatchOpts, clip.WithOnResult(c.onSave))
	}
	c.dispatcher = clip.NewDispatcher(c.writer, dispatchOpts...)

	c.detector = voicecmd.New(detectorOptions(cfg.Detector)...)

	if c.feed == nil && cfg.Capture.Enabled {
		c.feed = newCaptureFeed(cfg, c.metrics)
	}

	c.listener = &listenManager{
		source:    deps.Mic,
		factory:   deps.STT,
		observer:  c.detector,
		trigger:   func(ctx context.Context) { c.dispatcher.Trigger(ctx) },
		metrics:   c.metrics,
		entry:     cfg.STT,
		fallbacks: cfg.STTFallbacks,
		micCfg: mic.Config{
			Device:      cfg.Microphone.Device,
			SampleRate:  cfg.Microphone.SampleRate,
			Channels:    1,
			ChunkFrames: cfg.Microphone.ChunkFrames,
		},
		prompt: strings.Join(vocabulary(cfg.Detector), " "),
	}

	return c, nil
}

// windowSpec sizes the windows from the clip, video and audio settings.
func windowSpec(cfg *config.Config) window.Spec {
	return window.Spec{
		Seconds:    cfg.Clip.DurationSeconds,
		FrameRate:  cfg.Video.FrameRate,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}
}

func vocabulary(dc config.DetectorConfig) []string {
	if len(dc.Vocabulary) == 0 {
		return voicecmd.DefaultVocabulary
	}
	return dc.Vocabulary
}

// detectorOptions converts the detector config. Every knob is set so that
// Update can also revert to defaults.
func detectorOptions(dc config.DetectorConfig) []voicecmd.Option {
	return []voicecmd.Option{
		voicecmd.WithVocabulary(vocabulary(dc)...),
		voicecmd.WithCanonical(dc.Canonical),
		voicecmd.WithThreshold(dc.ThresholdValue()),
		voicecmd.WithCooldown(dc.CooldownValue()),
		voicecmd.WithHistorySize(dc.HistoryValue()),
	}
}

// newCaptureFeed builds the ffmpeg feed from the platform defaults,
// overridden by any configured input.
func newCaptureFeed(cfg *config.Config, m *observe.Metrics) *capture.FFmpegFeed {
	video, audio := capture.DefaultInputs(runtime.GOOS)
	video = overrideInput(video, cfg.Capture.Video)
	audio = overrideInput(audio, cfg.Capture.Audio)
	format := capture.Format{
		Width:      cfg.Video.Width,
		Height:     cfg.Video.Height,
		FrameRate:  cfg.Video.FrameRate,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}
	return capture.NewFFmpegFeed(format, video, audio,
		capture.WithFFmpegPath(cfg.Encoder.FFmpegPath),
		capture.WithMetrics(m),
	)
}

func overrideInput(def capture.Input, ic config.InputConfig) capture.Input {
	if ic.Format == "" {
		return def
	}
	return capture.Input{Format: ic.Format, Device: ic.Device, Args: ic.Args}
}

// ─── Runtime settings ───────────────────────────────────────────────────────

// SetBufferDuration resizes both windows to seconds. Buffered frames and
// audio are discarded.
func (c *Clipper) SetBufferDuration(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, seconds)
	}
	spec := c.pair.Spec()
	spec.Seconds = seconds
	c.pair.Resize(spec)
	slog.Info("buffer duration changed", "seconds", seconds)
	return nil
}

// SetOutputDir changes where clips are written, creating the directory if
// absent. A leading "~" is expanded.
func (c *Clipper) SetOutputDir(path string) error {
	dir := config.ExpandHome(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("app: create output dir: %w", err)
	}
	c.writer.SetOutputDir(dir)
	slog.Info("output directory changed", "dir", dir)
	return nil
}

// SetFormat changes the container of subsequent clips.
func (c *Clipper) SetFormat(format string) {
	c.writer.SetFormat(format)
	slog.Info("clip format changed", "format", c.writer.Format())
}

// SetModelPath changes the recognition model. It takes effect on the next
// listen start.
func (c *Clipper) SetModelPath(path string) {
	c.listener.setModelPath(path)
	slog.Info("model path changed, applies on next listen start", "path", path)
}

// OutputDir returns the directory clips are written to.
func (c *Clipper) OutputDir() string { return c.writer.OutputDir() }

// Buffers returns the sliding windows for programs that feed frames and
// audio themselves.
func (c *Clipper) Buffers() *window.Pair { return c.pair }

// Detector returns the command detector.
func (c *Clipper) Detector() *voicecmd.Detector { return c.detector }

// ─── Listening and saving ───────────────────────────────────────────────────

// StartListening spawns the recognition loop and returns immediately. It
// does nothing if the loop is already running.
func (c *Clipper) StartListening(ctx context.Context) error {
	return c.listener.start(ctx)
}

// StopListening stops the recognition loop. In-flight saves continue.
func (c *Clipper) StopListening() { c.listener.stop() }

// IsListening reports whether the recognition loop is running.
func (c *Clipper) IsListening() bool { return c.listener.isActive() }

// ListenInfo returns metadata about the active listen session. It is the
// zero value when not listening.
func (c *Clipper) ListenInfo() ListenInfo { return c.listener.currentInfo() }

// SaveClip dispatches a save of the current windows, exactly like a spoken
// command. It reports false when the save was dropped because too many are
// in flight.
func (c *Clipper) SaveClip(ctx context.Context) bool {
	return c.dispatcher.Trigger(ctx)
}

// Checkers returns the readiness checks for the status server.
func (c *Clipper) Checkers() []health.Checker {
	return []health.Checker{
		health.Listening(c.IsListening),
		health.SpeechSession(c.listener.sessionActive),
		health.DirWritable("output_dir", c.OutputDir),
	}
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// Sections that are only read at startup are logged.
func (c *Clipper) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && c.levelVar != nil {
		c.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DurationChanged {
		if err := c.SetBufferDuration(new.Clip.DurationSeconds); err != nil {
			slog.Warn("config: duration not applied", "err", err)
		}
	}
	if d.OutputDirChanged {
		if err := c.SetOutputDir(new.Clip.OutputDir); err != nil {
			slog.Warn("config: output dir not applied", "err", err)
		}
	}
	if d.FormatChanged {
		c.SetFormat(new.Clip.Format)
	}
	if d.DetectorChanged {
		c.detector.Update(detectorOptions(new.Detector)...)
		slog.Info("detector settings changed")
	}
	if d.ModelPathChanged {
		c.SetModelPath(new.STT.ModelPath)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run / Shutdown ─────────────────────────────────────────────────────────

// Run starts listening and capture, then blocks until ctx is done or the
// capture feed fails. A recognition failure stops listening but not Run.
func (c *Clipper) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := c.StartListening(gctx); err != nil {
		return err
	}

	if c.feed != nil {
		g.Go(func() error {
			if err := c.feed.Run(gctx, c.pair); err != nil {
				return fmt.Errorf("app: capture: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	c.StopListening()
	return err
}

// Shutdown stops listening and waits for in-flight saves. It respects the
// context deadline: if ctx expires first, the context error is returned
// and the remaining saves keep running.
func (c *Clipper) Shutdown(ctx context.Context) error {
	var shutdownErr error
	c.stopOnce.Do(func() {
		slog.Info("shutting down")
		c.StopListening()

		done := make(chan struct{})
		go func() {
			c.dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("shutdown complete", "clips", c.writer.Count())
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded, saves still in flight")
			shutdownErr = ctx.Err()
		}
	})
	return shutdownErr
}
