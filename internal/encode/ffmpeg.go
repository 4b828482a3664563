package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"
)

var _ Encoder = (*FFmpeg)(nil)

// ErrInvalidJob is returned by Encode for jobs missing required fields.
var ErrInvalidJob = errors.New("encode: invalid job")

// Option is a functional option for configuring FFmpeg.
type Option func(*FFmpeg)

// WithPath sets the ffmpeg binary. Defaults to "ffmpeg" resolved on PATH.
func WithPath(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.path = path
		}
	}
}

// WithTimeout bounds each encode. Zero means no limit beyond the caller's
// context.
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		f.timeout = d
	}
}

// WithRunner replaces the command runner, typically with a fake in tests.
func WithRunner(r CommandRunner) Option {
	return func(f *FFmpeg) {
		f.runner = r
	}
}

// WithProfile overrides the platform profile.
func WithProfile(p Profile) Option {
	return func(f *FFmpeg) {
		f.profile = p
	}
}

// FFmpeg encodes jobs by running the ffmpeg CLI.
type FFmpeg struct {
	path    string
	timeout time.Duration
	runner  CommandRunner
	profile Profile
}

// NewFFmpeg creates an encoder using the profile for the running platform.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		path:    "ffmpeg",
		runner:  ExecRunner{},
		profile: ProfileFor(runtime.GOOS),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Profile returns the active codec profile.
func (f *FFmpeg) Profile() Profile { return f.profile }

// LookPath resolves the configured binary, reporting a missing ffmpeg at
// startup rather than on the first save.
func (f *FFmpeg) LookPath() (string, error) {
	p, err := exec.LookPath(f.path)
	if err != nil {
		return "", fmt.Errorf("encode: ffmpeg not found: %w", err)
	}
	return p, nil
}

// Args returns the full argument list used for job.
func (f *FFmpeg) Args(job Job) []string {
	return f.profile.Args(job)
}

// Encode runs ffmpeg for job. A non-zero exit yields an *ExitError carrying
// the captured output.
func (f *FFmpeg) Encode(ctx context.Context, job Job) error {
	if job.VideoPath == "" || job.OutputPath == "" {
		return fmt.Errorf("%w: video and output paths are required", ErrInvalidJob)
	}
	if job.Video.Width <= 0 || job.Video.Height <= 0 || job.Video.FrameRate <= 0 {
		return fmt.Errorf("%w: video geometry %dx%d@%d", ErrInvalidJob, job.Video.Width, job.Video.Height, job.Video.FrameRate)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := f.Args(job)
	start := time.Now()
	stdout, stderr, err := f.runner.Run(ctx, f.path, args...)
	if err != nil {
		return &ExitError{Err: err, Args: args, Stdout: stdout, Stderr: stderr}
	}
	slog.Debug("encode: ffmpeg finished",
		"output", job.OutputPath,
		"duration", time.Since(start),
	)
	return nil
}
