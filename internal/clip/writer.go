// Package clip turns a snapshot of the sliding window into an encoded file
// on disk.
//
// [Writer.Save] does the work synchronously: snapshot, spool raw frames and a
// WAV file into a private temp directory under the output directory, run the
// encoder, then move the result into place. [Dispatcher] runs saves in the
// background with a concurrency limit so the recognition loop never waits on
// an encode.
package clip

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voiceclip/internal/encode"
	"github.com/MrWong99/voiceclip/internal/window"
)

// ErrNothingToSave is returned by [Writer.Save] when the video window is
// empty. No file is created and the clip counter is not advanced.
var ErrNothingToSave = errors.New("clip: nothing to save")

const (
	tempPattern   = ".voiceclip-*"
	videoFileName = "video.raw"
	audioFileName = "audio.wav"
	timeLayout    = "20060102_150405"
	wavBitDepth   = 16
	wavPCMFormat  = 1
)

// Source provides window snapshots. *window.Pair satisfies it.
type Source interface {
	Snapshot() window.Snapshot
}

// Config holds the writer settings. OutputDir and Format may be changed at
// runtime through [Writer.SetOutputDir] and [Writer.SetFormat].
type Config struct {
	OutputDir string

	// Format is the container extension, e.g. "mp4". It is lowercased.
	Format string

	// Width, Height and PixelFormat describe every frame in the window. The
	// frame rate comes from the snapshot.
	Width       int
	Height      int
	PixelFormat string
}

// Result describes a finished clip.
type Result struct {
	Path       string
	Counter    uint64
	Frames     int
	AudioBytes int

	// Skipped counts frames dropped because their size did not match the
	// configured geometry.
	Skipped int
	Elapsed time.Duration
}

// Writer saves clips. It is safe for concurrent use; concurrent saves get
// distinct counters and temp directories.
type Writer struct {
	src Source
	enc encode.Encoder

	mu        sync.RWMutex
	outputDir string
	format    string

	width       int
	height      int
	pixelFormat string

	counter atomic.Uint64
}

// NewWriter creates a Writer reading from src and encoding with enc.
func NewWriter(src Source, enc encode.Encoder, cfg Config) *Writer {
	return &Writer{
		src:         src,
		enc:         enc,
		outputDir:   cfg.OutputDir,
		format:      strings.ToLower(cfg.Format),
		width:       cfg.Width,
		height:      cfg.Height,
		pixelFormat: cfg.PixelFormat,
	}
}

// SetOutputDir changes the directory used by subsequent saves.
func (w *Writer) SetOutputDir(dir string) {
	w.mu.Lock()
	w.outputDir = dir
	w.mu.Unlock()
}

// SetFormat changes the container format used by subsequent saves.
func (w *Writer) SetFormat(format string) {
	w.mu.Lock()
	w.format = strings.ToLower(format)
	w.mu.Unlock()
}

// OutputDir returns the current output directory.
func (w *Writer) OutputDir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outputDir
}

// Format returns the current container format.
func (w *Writer) Format() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.format
}

// Count returns the number of saves that got past the empty-window check.
func (w *Writer) Count() uint64 { return w.counter.Load() }

// FileName builds the clip file name for a save taken at t.
func FileName(t time.Time, counter uint64, format string) string {
	return fmt.Sprintf("clip_%s_%d.%s", t.Format(timeLayout), counter, format)
}

// Snapshot returns the current window contents.
func (w *Writer) Snapshot() window.Snapshot { return w.src.Snapshot() }

// Save snapshots the window and encodes it.
func (w *Writer) Save(ctx context.Context) (Result, error) {
	return w.SaveSnapshot(ctx, w.src.Snapshot())
}

// SaveSnapshot encodes snap into a new clip. Temporary files are removed on
// every exit path.
func (w *Writer) SaveSnapshot(ctx context.Context, snap window.Snapshot) (Result, error) {
	start := time.Now()
	if snap.Empty() {
		return Result{}, ErrNothingToSave
	}
	n := w.counter.Add(1)

	w.mu.RLock()
	outputDir, format := w.outputDir, w.format
	w.mu.RUnlock()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("clip: create output dir: %w", err)
	}
	tmp, err := os.MkdirTemp(outputDir, tempPattern)
	if err != nil {
		return Result{}, fmt.Errorf("clip: create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			slog.Warn("clip: failed to remove temp dir", "dir", tmp, "err", err)
		}
	}()

	video := encode.VideoFormat{
		Width:       w.width,
		Height:      w.height,
		FrameRate:   snap.Spec.FrameRate,
		PixelFormat: w.pixelFormat,
	}
	res := Result{Counter: n, AudioBytes: len(snap.PCM)}

	job := encode.Job{
		VideoPath:  filepath.Join(tmp, videoFileName),
		OutputPath: filepath.Join(tmp, "out."+format),
		Video:      video,
		Audio:      encode.AudioFormat{SampleRate: snap.Spec.SampleRate, Channels: snap.Spec.Channels},
	}
	res.Frames, res.Skipped, err = writeFrames(job.VideoPath, snap.Frames, video.FrameSize())
	if err != nil {
		return Result{}, err
	}
	if res.Frames == 0 {
		return Result{}, fmt.Errorf("clip: all %d frames have the wrong size for %dx%d", res.Skipped, w.width, w.height)
	}
	if res.Skipped > 0 {
		slog.Warn("clip: dropped frames with unexpected size", "skipped", res.Skipped, "want_bytes", video.FrameSize())
	}

	if len(snap.PCM) > 0 {
		job.AudioPath = filepath.Join(tmp, audioFileName)
		if err := writeWAV(job.AudioPath, snap.PCM, snap.Spec.SampleRate, snap.Spec.Channels); err != nil {
			return Result{}, err
		}
	}

	if err := w.enc.Encode(ctx, job); err != nil {
		return Result{}, fmt.Errorf("clip: encode %s: %w", FileName(snap.TakenAt, n, format), err)
	}

	res.Path = filepath.Join(outputDir, FileName(snap.TakenAt, n, format))
	if err := os.Rename(job.OutputPath, res.Path); err != nil {
		return Result{}, fmt.Errorf("clip: move encoded file: %w", err)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// writeFrames concatenates frames of exactly frameSize bytes into path.
func writeFrames(path string, frames [][]byte, frameSize int) (written, skipped int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, fmt.Errorf("clip: create video spool: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	for _, fr := range frames {
		if len(fr) != frameSize {
			skipped++
			continue
		}
		if _, err := bw.Write(fr); err != nil {
			f.Close()
			return 0, 0, fmt.Errorf("clip: write video spool: %w", err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return 0, 0, fmt.Errorf("clip: write video spool: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, 0, fmt.Errorf("clip: close video spool: %w", err)
	}
	return written, skipped, nil
}

// writeWAV stores interleaved little-endian 16-bit PCM as a WAV file. A
// trailing partial sample frame is dropped.
func writeWAV(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("clip: create audio spool: %w", err)
	}
	defer f.Close()

	align := channels * wavBitDepth / 8
	samples := make([]int, 0, len(pcm)/2)
	for i := 0; i+align <= len(pcm); i += align {
		for c := range channels {
			off := i + 2*c
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcm[off:]))))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, channels, wavPCMFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("clip: write audio spool: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("clip: finalize audio spool: %w", err)
	}
	return nil
}
