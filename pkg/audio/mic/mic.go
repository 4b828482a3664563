// Package mic defines the microphone capture abstraction used by command
// recognition and a miniaudio-backed implementation of it.
//
// A [Source] opens a [Stream] that yields fixed-size chunks of interleaved
// little-endian 16-bit PCM. Chunks are produced by the audio backend on its
// own thread and queued until the consumer reads them; when the consumer
// falls behind, chunks are dropped and the next Read reports [ErrOverflow]
// once so the caller can log it and carry on.
package mic

import (
	"context"
	"errors"
)

const (
	// DefaultSampleRate is the capture rate expected by speech recognition.
	DefaultSampleRate = 16000

	// DefaultChunkFrames is the number of sample frames per chunk.
	DefaultChunkFrames = 2048

	bytesPerSample = 2
)

var (
	// ErrOverflow is returned by Read when chunks were dropped because the
	// queue was full. The stream remains usable.
	ErrOverflow = errors.New("mic: input overflow, chunks dropped")

	// ErrClosed is returned by Read after the stream was closed or the
	// device stopped.
	ErrClosed = errors.New("mic: stream closed")

	// ErrDeviceNotFound is returned by Open when the named device does not
	// exist.
	ErrDeviceNotFound = errors.New("mic: capture device not found")
)

// Config describes the capture format.
type Config struct {
	// Device is a case-insensitive substring of the capture device name. Empty
	// selects the system default device.
	Device string

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// ChunkFrames is the number of sample frames in each chunk returned by
	// Read.
	ChunkFrames int
}

// ChunkBytes returns the size in bytes of one chunk.
func (c Config) ChunkBytes() int {
	return c.ChunkFrames * c.Channels * bytesPerSample
}

// WithDefaults fills zero fields with the recognition defaults: 16 kHz mono,
// 2048-frame chunks.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = DefaultChunkFrames
	}
	return c
}

// Stream is an open capture stream.
type Stream interface {
	// Read blocks until the next chunk is available. It returns ErrOverflow
	// once after chunks were dropped, ErrClosed after Close or device loss,
	// and ctx.Err() when ctx is done.
	Read(ctx context.Context) ([]byte, error)

	// Close stops capture and releases the device. It is safe to call more
	// than once.
	Close() error
}

// Source opens capture streams.
type Source interface {
	Open(ctx context.Context, cfg Config) (Stream, error)
}
