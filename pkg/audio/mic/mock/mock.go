// Package mock provides test doubles for the mic package interfaces.
//
// Script a Stream with Push and PushErr; once the script is exhausted, Read
// blocks until the stream is closed or the context is done.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceclip/pkg/audio/mic"
)

// Source is a mock implementation of mic.Source.
type Source struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, Open returns a fresh NewStream(16).
	Stream *Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the Config of every Open call.
	OpenCalls []mic.Config
}

var _ mic.Source = (*Source)(nil)

// Open records the call and returns Stream or OpenErr.
func (s *Source) Open(_ context.Context, cfg mic.Config) (mic.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, cfg)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream == nil {
		s.Stream = NewStream(16)
	}
	return s.Stream, nil
}

// Calls returns a copy of the recorded Open configs. Thread-safe.
func (s *Source) Calls() []mic.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mic.Config(nil), s.OpenCalls...)
}

type read struct {
	data []byte
	err  error
}

// Stream is a scripted mic.Stream.
type Stream struct {
	reads  chan read
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closeCalls int
}

var _ mic.Stream = (*Stream)(nil)

// NewStream returns a Stream whose script holds up to buffer entries.
func NewStream(buffer int) *Stream {
	return &Stream{
		reads:  make(chan read, buffer),
		closed: make(chan struct{}),
	}
}

// Push queues a chunk.
func (s *Stream) Push(data []byte) { s.reads <- read{data: data} }

// PushErr queues an error.
func (s *Stream) PushErr(err error) { s.reads <- read{err: err} }

// Read returns the next scripted entry.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-s.reads:
		return r.data, r.err
	case <-s.closed:
		return nil, mic.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close records the call. Subsequent reads return mic.ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Stream) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
