package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceclip/internal/encode"
	"github.com/MrWong99/voiceclip/internal/observe"
)

// ErrNoInputs is returned by Run when neither input is configured.
var ErrNoInputs = errors.New("capture: no video or audio input configured")

// Process is a running capture process.
type Process interface {
	Stdout() io.Reader
	// Wait must be called after Stdout reached EOF.
	Wait() error
}

// Starter launches capture processes.
type Starter interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Format describes the raw media the feed produces.
type Format struct {
	Width      int
	Height     int
	FrameRate  int
	SampleRate int
	Channels   int
}

// FrameSize is the byte size of one rgb24 frame.
func (f Format) FrameSize() int { return f.Width * f.Height * 3 }

// AudioBlockSize is the byte size of one frame interval of s16le audio.
func (f Format) AudioBlockSize() int {
	if f.FrameRate <= 0 {
		return 0
	}
	return f.SampleRate / f.FrameRate * f.Channels * 2
}

// FFmpegOption configures an [FFmpegFeed].
type FFmpegOption func(*FFmpegFeed)

// WithFFmpegPath sets the ffmpeg binary.
func WithFFmpegPath(path string) FFmpegOption {
	return func(f *FFmpegFeed) {
		if path != "" {
			f.path = path
		}
	}
}

// WithStarter replaces the process starter, typically in tests.
func WithStarter(s Starter) FFmpegOption {
	return func(f *FFmpegFeed) {
		f.starter = s
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) FFmpegOption {
	return func(f *FFmpegFeed) {
		f.metrics = m
	}
}

// FFmpegFeed captures screen and system audio through ffmpeg.
type FFmpegFeed struct {
	path    string
	format  Format
	video   Input
	audio   Input
	starter Starter
	metrics *observe.Metrics
}

var _ Feed = (*FFmpegFeed)(nil)

// NewFFmpegFeed creates a feed. An input with an empty Format is skipped.
func NewFFmpegFeed(format Format, video, audio Input, opts ...FFmpegOption) *FFmpegFeed {
	f := &FFmpegFeed{
		path:    "ffmpeg",
		format:  format,
		video:   video,
		audio:   audio,
		starter: execStarter{},
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// VideoArgs returns the ffmpeg arguments of the video process.
func (f *FFmpegFeed) VideoArgs() []string {
	size := strconv.Itoa(f.format.Width) + "x" + strconv.Itoa(f.format.Height)
	rate := strconv.Itoa(f.format.FrameRate)
	args := []string{"-hide_banner", "-loglevel", "error", "-f", f.video.Format, "-framerate", rate}
	args = append(args, f.video.Args...)
	return append(args,
		"-i", f.video.Device,
		"-vf", "scale="+strings.Replace(size, "x", ":", 1),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-r", rate,
		"pipe:1",
	)
}

// AudioArgs returns the ffmpeg arguments of the audio process.
func (f *FFmpegFeed) AudioArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", f.audio.Format}
	args = append(args, f.audio.Args...)
	return append(args,
		"-i", f.audio.Device,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(f.format.Channels),
		"-ar", strconv.Itoa(f.format.SampleRate),
		"pipe:1",
	)
}

// Run captures until ctx is cancelled or a capture process fails. It
// returns nil on cancellation.
func (f *FFmpegFeed) Run(ctx context.Context, sink Sink) error {
	if f.video.Format == "" && f.audio.Format == "" {
		return ErrNoInputs
	}
	g, gctx := errgroup.WithContext(ctx)
	if f.video.Format != "" {
		g.Go(func() error {
			return f.capture(gctx, "video", f.VideoArgs(), f.format.FrameSize(), func(b []byte) {
				sink.PushFrame(b)
				f.metrics.CaptureFrames.Add(gctx, 1)
			})
		})
	}
	if f.audio.Format != "" {
		g.Go(func() error {
			return f.capture(gctx, "audio", f.AudioArgs(), f.format.AudioBlockSize(), sink.PushAudio)
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *FFmpegFeed) capture(ctx context.Context, kind string, args []string, size int, push func([]byte)) error {
	if size <= 0 {
		return fmt.Errorf("capture: invalid %s record size %d", kind, size)
	}
	proc, err := f.starter.Start(ctx, f.path, args...)
	if err != nil {
		return fmt.Errorf("capture: start %s: %w", kind, err)
	}
	slog.Info("capture: started", "kind", kind, "record_bytes", size)

	n, readErr := readRecords(proc.Stdout(), size, push)
	waitErr := proc.Wait()
	slog.Info("capture: stopped", "kind", kind, "records", n)

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("capture: read %s: %w", kind, readErr)
	}
	if waitErr != nil {
		return fmt.Errorf("capture: %s process: %w", kind, waitErr)
	}
	return fmt.Errorf("capture: %s process exited", kind)
}

type execStarter struct{}

func (execStarter) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := encode.Command(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	p := &execProcess{stdout: stdout}
	cmd.Stderr = &p.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p.wait = cmd.Wait
	return p, nil
}

type execProcess struct {
	stdout io.Reader
	stderr bytes.Buffer
	wait   func() error
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Wait() error {
	if err := p.wait(); err != nil {
		if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
