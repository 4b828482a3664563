package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voiceclip/internal/observe"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	audio  [][]byte
}

func (s *recordingSink) PushFrame(f []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *recordingSink) PushAudio(p []byte) {
	s.mu.Lock()
	s.audio = append(s.audio, p)
	s.mu.Unlock()
}

type fakeProcess struct {
	out     io.Reader
	waitErr error
}

func (p *fakeProcess) Stdout() io.Reader { return p.out }
func (p *fakeProcess) Wait() error       { return p.waitErr }

// fakeStarter serves stdout contents keyed by the -f input format.
type fakeStarter struct {
	mu    sync.Mutex
	out   map[string][]byte
	wait  map[string]error
	calls [][]string
}

func (s *fakeStarter) Start(_ context.Context, name string, args ...string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string{name}, args...))
	in := args[slices.Index(args, "-f")+1]
	return &fakeProcess{out: bytes.NewReader(s.out[in]), waitErr: s.wait[in]}, nil
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

var testFormat = Format{Width: 2, Height: 2, FrameRate: 10, SampleRate: 100, Channels: 2}

func TestReadRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		size  int
		want  [][]byte
	}{
		{"empty", nil, 3, nil},
		{"exact", []byte{1, 2, 3, 4, 5, 6}, 3, [][]byte{{1, 2, 3}, {4, 5, 6}}},
		{"partial tail dropped", []byte{1, 2, 3, 4}, 3, [][]byte{{1, 2, 3}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got [][]byte
			n, err := readRecords(bytes.NewReader(tc.input), tc.size, func(b []byte) { got = append(got, b) })
			if err != nil {
				t.Fatalf("readRecords: %v", err)
			}
			if n != len(tc.want) || !slices.EqualFunc(got, tc.want, bytes.Equal) {
				t.Errorf("records = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFormat_Sizes(t *testing.T) {
	t.Parallel()

	f := Format{Width: 1920, Height: 1080, FrameRate: 30, SampleRate: 44100, Channels: 2}
	if got := f.FrameSize(); got != 6220800 {
		t.Errorf("FrameSize() = %d, want 6220800", got)
	}
	if got := f.AudioBlockSize(); got != 1470*4 {
		t.Errorf("AudioBlockSize() = %d, want %d", got, 1470*4)
	}
}

func TestFFmpegFeed_Args(t *testing.T) {
	t.Parallel()

	video, audio := DefaultInputs("linux")
	f := NewFFmpegFeed(Format{Width: 1920, Height: 1080, FrameRate: 30, SampleRate: 44100, Channels: 2}, video, audio,
		WithMetrics(testMetrics(t)))

	wantVideo := []string{
		"-hide_banner", "-loglevel", "error", "-f", "x11grab", "-framerate", "30",
		"-i", ":0.0", "-vf", "scale=1920:1080", "-f", "rawvideo", "-pix_fmt", "rgb24", "-r", "30", "pipe:1",
	}
	if got := f.VideoArgs(); !slices.Equal(got, wantVideo) {
		t.Errorf("VideoArgs()\n got  %q\n want %q", got, wantVideo)
	}
	wantAudio := []string{
		"-hide_banner", "-loglevel", "error", "-f", "pulse",
		"-i", "default", "-f", "s16le", "-acodec", "pcm_s16le", "-ac", "2", "-ar", "44100", "pipe:1",
	}
	if got := f.AudioArgs(); !slices.Equal(got, wantAudio) {
		t.Errorf("AudioArgs()\n got  %q\n want %q", got, wantAudio)
	}

	dv, _ := DefaultInputs("darwin")
	if args := NewFFmpegFeed(testFormat, dv, Input{}, WithMetrics(testMetrics(t))).VideoArgs(); !slices.Contains(args, "-capture_cursor") {
		t.Errorf("darwin video args lack demuxer options: %q", args)
	}
}

func TestFFmpegFeed_RunPushesInOrder(t *testing.T) {
	t.Parallel()

	frameSize := testFormat.FrameSize()
	var video []byte
	for i := range 5 {
		video = append(video, bytes.Repeat([]byte{byte(i)}, frameSize)...)
	}
	video = append(video, 9, 9) // partial trailing frame

	block := testFormat.AudioBlockSize()
	audio := bytes.Repeat([]byte{7}, 3*block)

	st := &fakeStarter{out: map[string][]byte{"x11grab": video, "pulse": audio}}
	f := NewFFmpegFeed(testFormat, Input{Format: "x11grab", Device: ":0"}, Input{Format: "pulse", Device: "default"},
		WithStarter(st), WithFFmpegPath("/usr/bin/ffmpeg"), WithMetrics(testMetrics(t)))

	sink := &recordingSink{}
	err := f.Run(context.Background(), sink)
	// Both fake processes end on their own, which is a capture failure.
	if err == nil || !strings.Contains(err.Error(), "exited") {
		t.Fatalf("Run err = %v, want process exited", err)
	}

	if len(sink.frames) != 5 {
		t.Fatalf("frames = %d, want 5", len(sink.frames))
	}
	for i, fr := range sink.frames {
		if len(fr) != frameSize || fr[0] != byte(i) {
			t.Errorf("frame %d = %d bytes starting %d", i, len(fr), fr[0])
		}
	}
	if len(sink.audio) != 3 || len(sink.audio[0]) != block {
		t.Errorf("audio blocks = %d, want 3 of %d bytes", len(sink.audio), block)
	}
	for _, c := range st.calls {
		if c[0] != "/usr/bin/ffmpeg" {
			t.Errorf("binary = %q", c[0])
		}
	}
}

func TestFFmpegFeed_ProcessErrorIsReported(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{
		out:  map[string][]byte{},
		wait: map[string]error{"x11grab": errors.New("exit status 1: cannot open display")},
	}
	f := NewFFmpegFeed(testFormat, Input{Format: "x11grab", Device: ":9"}, Input{}, WithStarter(st), WithMetrics(testMetrics(t)))

	err := f.Run(context.Background(), &recordingSink{})
	if err == nil || !strings.Contains(err.Error(), "cannot open display") {
		t.Errorf("Run err = %v", err)
	}
	if len(st.calls) != 1 {
		t.Errorf("processes started = %d, want 1 (audio disabled)", len(st.calls))
	}
}

func TestFFmpegFeed_CancelledRunReturnsNil(t *testing.T) {
	t.Parallel()

	st := &fakeStarter{out: map[string][]byte{}}
	f := NewFFmpegFeed(testFormat, Input{Format: "x11grab"}, Input{}, WithStarter(st), WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.Run(ctx, &recordingSink{}); err != nil {
		t.Errorf("Run err = %v, want nil after cancel", err)
	}
}

func TestFFmpegFeed_NoInputs(t *testing.T) {
	t.Parallel()

	f := NewFFmpegFeed(testFormat, Input{}, Input{}, WithMetrics(testMetrics(t)))
	if err := f.Run(context.Background(), &recordingSink{}); !errors.Is(err, ErrNoInputs) {
		t.Errorf("Run err = %v, want ErrNoInputs", err)
	}
}
