package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

// STTFallback is an stt.Provider that starts each session on the first
// healthy backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider = (*STTFallback)(nil)
	_ io.Closer    = (*STTFallback)(nil)
)

// NewSTTFallback creates an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, name string, cfg CircuitBreakerConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers the next backend to try.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.Add(name, p)
}

// StartStream opens a session on the first backend that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sess, name, err := Do(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("speech session started", "provider", name)
	return sess, nil
}

// Close closes every backend that holds resources.
func (f *STTFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, p stt.Provider) {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
