// The NativeProvider is backed by the whisper.cpp CGO bindings. libwhisper.a
// and whisper.h must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// ErrModelNotFound is returned by NewNative when modelPath is empty.
var ErrModelNotFound = errors.New("whisper: model path must not be empty")

// NativeProvider implements stt.Provider with in-process whisper.cpp
// inference. The model is loaded once and shared across sessions.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	seg      segmentConfig
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the default sample rate in Hz. Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.seg.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets the silence duration that ends an
// utterance. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the maximum utterance length before a
// forced flush. Defaults to 10 000 ms.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.maxBufferDurationMs = ms }
}

// NewNative loads the ggml model at modelPath. A missing or unreadable model
// is an error; nothing is downloaded. The caller must call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, ErrModelNotFound
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		seg:      defaultSegmentConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session. Every utterance runs on a
// fresh whisper context created from the shared model.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	seg := p.seg
	if cfg.SampleRate > 0 {
		seg.sampleRate = cfg.SampleRate
	}
	channels := max(cfg.Channels, 1)
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	infer := func(_ context.Context, pcm []byte) (stt.Result, error) {
		return p.infer(pcmToFloat32Mono(pcm, channels), lang)
	}
	return startSession(ctx, "whisper-native", seg, channels, infer), nil
}

func (p *NativeProvider) infer(samples []float32, lang string) (stt.Result, error) {
	// Contexts are not goroutine-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return stt.Result{Text: strings.Join(parts, " ")}, nil
}
