// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model, a
// whisper.cpp HTTP server or a hosted streaming service) and exposes a uniform
// streaming interface. Once opened, a session accepts raw 16-bit PCM chunks and
// emits a Transcript on Finals every time the engine detects an utterance
// boundary.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close has been called.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Microphone capture for command
	// recognition uses 16000.
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Prompt is an optional initial prompt that biases recognition toward the
	// expected vocabulary. Providers without prompt support ignore it.
	Prompt string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live
// engine.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw little-endian 16-bit PCM to the
	// provider. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Finals returns a read-only channel that emits a Transcript at every
	// utterance boundary. The channel is closed when the session ends, either
	// through Close or because the engine connection was lost.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// missing model, authentication failure or ctx already cancelled).
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
