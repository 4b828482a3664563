// Package whisper provides whisper.cpp-backed STT providers.
//
// whisper.cpp is a batch engine, so both providers simulate streaming: each
// session buffers incoming PCM, applies an energy-based silence detector to
// find utterance boundaries and transcribes every completed utterance in one
// go. [Provider] submits utterances to a running whisper-server over HTTP;
// [NativeProvider] runs inference in-process through the CGO bindings.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceThresholdMs(500),
//	)
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

// maxResponseBytes caps the inference response body that is decoded.
const maxResponseBytes = 1 << 20

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the default audio sample rate in Hz for sessions whose
// StreamConfig leaves it unset. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.seg.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets the consecutive-silence duration that ends an
// utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.seg.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs sets the maximum utterance length before a flush is
// forced regardless of silence. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.seg.maxBufferDurationMs = ms
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Each session keeps its own audio buffer and goroutine.
type Provider struct {
	serverURL  string
	model      string
	language   string
	seg        segmentConfig
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL (e.g.,
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		seg:        defaultSegmentConfig(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. No connection is made until
// the first utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
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

	req := inferenceRequest{
		endpoint:   p.serverURL + "/inference",
		model:      p.model,
		language:   lang,
		prompt:     cfg.Prompt,
		sampleRate: seg.sampleRate,
		channels:   channels,
		client:     p.httpClient,
	}
	return startSession(ctx, "whisper", seg, channels, req.do), nil
}

// inferenceRequest holds the per-session parameters of a POST /inference call.
type inferenceRequest struct {
	endpoint   string
	model      string
	language   string
	prompt     string
	sampleRate int
	channels   int
	client     *http.Client
}

// do encodes pcm as WAV, uploads it as multipart/form-data and decodes the
// JSON response.
func (r inferenceRequest) do(ctx context.Context, pcm []byte) (stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, r.sampleRate, r.channels)); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", r.language},
		{"model", r.model},
		{"prompt", r.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var res stt.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	res.Text = strings.TrimSpace(res.Text)
	return res, nil
}
