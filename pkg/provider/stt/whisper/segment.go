package whisper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the RMS energy (16-bit sample units) below which a
	// chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// finalFlushTimeout bounds the inference run for audio still buffered when
	// a session closes.
	finalFlushTimeout = 30 * time.Second
)

// segmentConfig controls how a session splits the incoming audio stream into
// utterances. Both providers share it.
type segmentConfig struct {
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

func defaultSegmentConfig() segmentConfig {
	return segmentConfig{
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
	}
}

// segmenter turns a stream of PCM chunks into utterances. Leading silence is
// discarded; an utterance ends after silenceThresholdMs of consecutive
// silence or once maxBufferDurationMs of audio has accumulated.
type segmenter struct {
	cfg            segmentConfig
	channels       int
	maxBufferBytes int

	buffer    []byte
	hadSpeech bool
	silenceMs int
}

func newSegmenter(cfg segmentConfig, channels int) *segmenter {
	bytesPerMs := cfg.sampleRate * channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono
	}
	return &segmenter{
		cfg:            cfg,
		channels:       channels,
		maxBufferBytes: cfg.maxBufferDurationMs * bytesPerMs,
	}
}

// Push adds chunk and returns a completed utterance, or nil.
func (g *segmenter) Push(chunk []byte) []byte {
	if computeRMS(chunk) < g.cfg.rmsThreshold {
		if !g.hadSpeech {
			return nil
		}
		g.silenceMs += g.chunkMs(chunk)
		g.buffer = append(g.buffer, chunk...)
		if g.silenceMs >= g.cfg.silenceThresholdMs {
			return g.Flush()
		}
		return nil
	}

	g.hadSpeech = true
	g.silenceMs = 0
	g.buffer = append(g.buffer, chunk...)
	if g.maxBufferBytes > 0 && len(g.buffer) >= g.maxBufferBytes {
		return g.Flush()
	}
	return nil
}

// Flush returns the buffered utterance, if any speech was seen, and resets
// the segmenter.
func (g *segmenter) Flush() []byte {
	pcm := g.buffer
	speech := g.hadSpeech
	g.buffer = nil
	g.hadSpeech = false
	g.silenceMs = 0
	if !speech || len(pcm) == 0 {
		return nil
	}
	return pcm
}

func (g *segmenter) chunkMs(chunk []byte) int {
	bytesPerSec := g.cfg.sampleRate * g.channels * (bitsPerSample / 8)
	if bytesPerSec <= 0 {
		return 0
	}
	return len(chunk) * 1000 / bytesPerSec
}

// inferFunc transcribes one utterance of 16-bit PCM.
type inferFunc func(ctx context.Context, pcm []byte) (stt.Result, error)

// session is a live whisper transcription session. It implements
// stt.SessionHandle for both the HTTP and the native provider. All segmenter
// state is confined to the processLoop goroutine.
type session struct {
	name       string
	seg        *segmenter
	infer      inferFunc
	sampleRate int
	channels   int

	audioCh chan []byte
	finals  chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, name string, cfg segmentConfig, channels int, infer inferFunc) *session {
	s := &session{
		name:       name,
		seg:        newSegmenter(cfg, channels),
		infer:      infer,
		sampleRate: cfg.sampleRate,
		channels:   channels,
		audioCh:    make(chan []byte, 256),
		finals:     make(chan stt.Transcript, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// SendAudio queues a chunk of 16-bit little-endian PCM for segmentation.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Finals returns the utterance channel. It is closed when the session ends.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes any buffered speech, closes Finals and stops the session.
// Calling Close more than once is safe.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		select {
		case <-ctx.Done():
			s.finalFlush()
			return
		case <-s.done:
			s.finalFlush()
			return
		case chunk := <-s.audioCh:
			if pcm := s.seg.Push(chunk); pcm != nil {
				s.emit(ctx, pcm)
			}
		}
	}
}

// finalFlush transcribes buffered speech on a fresh context, since the
// session context may already be cancelled.
func (s *session) finalFlush() {
	pcm := s.seg.Flush()
	if pcm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	s.emit(ctx, pcm)
}

func (s *session) emit(ctx context.Context, pcm []byte) {
	res, err := s.infer(ctx, pcm)
	if err != nil {
		slog.Warn("whisper: inference failed", "provider", s.name, "err", err)
		return
	}
	if res.Text == "" {
		return
	}
	bytesPerSec := s.sampleRate * s.channels * (bitsPerSample / 8)
	var dur time.Duration
	if bytesPerSec > 0 {
		dur = time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec)
	}
	// Finals is buffered; drop rather than block shutdown when nobody reads.
	select {
	case s.finals <- res.Transcript(dur):
	default:
		slog.Warn("whisper: finals channel full, dropping transcript", "provider", s.name)
	}
}
