// Package encode turns a spooled video/audio window into a container file by
// running an external encoder.
//
// The encoder is a black box: it receives the path of a raw frame file, an
// optional WAV file and the desired output path, and either produces the
// output or fails with diagnostics. [FFmpeg] is the production
// implementation; its codec settings come from a per-platform [Profile]
// chosen once at construction.
package encode

import (
	"context"
	"fmt"
	"strings"
)

// VideoFormat describes the raw frames in Job.VideoPath.
type VideoFormat struct {
	Width       int
	Height      int
	FrameRate   int
	PixelFormat string
}

// FrameSize returns the size in bytes of one raw frame. Only packed 24-bit
// RGB/BGR formats are supported.
func (v VideoFormat) FrameSize() int {
	return v.Width * v.Height * 3
}

// AudioFormat describes the WAV file in Job.AudioPath.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// Job is a single encode request.
type Job struct {
	// VideoPath is a file of concatenated raw frames.
	VideoPath string

	// AudioPath is an optional 16-bit PCM WAV file. Empty means video only.
	AudioPath string

	// OutputPath is where the container is written. Its extension selects
	// the container format.
	OutputPath string

	Video VideoFormat
	Audio AudioFormat
}

// Encoder produces a container file from a Job.
type Encoder interface {
	Encode(ctx context.Context, job Job) error
}

// maxDiagnosticBytes bounds the stderr tail included in ExitError.Error.
const maxDiagnosticBytes = 2048

// ExitError reports a failed encoder run together with everything the
// process wrote.
type ExitError struct {
	Err    error
	Args   []string
	Stdout []byte
	Stderr []byte
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("encode: ffmpeg failed: %v", e.Err)
	if tail := tailString(e.Stderr, maxDiagnosticBytes); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

func tailString(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
