package mic

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

var _ Source = (*MalgoSource)(nil)

// MalgoOption is a functional option for configuring a MalgoSource.
type MalgoOption func(*MalgoSource)

// WithBackends overrides the miniaudio backend list. By default the platform
// backend is used: ALSA on Linux, WASAPI on Windows, CoreAudio on macOS.
func WithBackends(backends ...malgo.Backend) MalgoOption {
	return func(s *MalgoSource) {
		s.backends = backends
	}
}

// WithQueueDepth sets how many chunks are buffered before overflow.
func WithQueueDepth(n int) MalgoOption {
	return func(s *MalgoSource) {
		if n > 0 {
			s.queueDepth = n
		}
	}
}

// MalgoSource captures from a local audio device through miniaudio.
type MalgoSource struct {
	backends   []malgo.Backend
	queueDepth int
}

// NewMalgoSource creates a source using the platform backend.
func NewMalgoSource(opts ...MalgoOption) *MalgoSource {
	s := &MalgoSource{
		backends:   platformBackends(runtime.GOOS),
		queueDepth: defaultQueueDepth,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func platformBackends(goos string) []malgo.Backend {
	switch goos {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// Open initialises a miniaudio context and capture device and starts
// capturing. Any failure is returned; nothing is retried.
func (s *MalgoSource) Open(ctx context.Context, cfg Config) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	mctx, err := malgo.InitContext(s.backends, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("mic: miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("mic: init context: %w", err)
	}

	st := &malgoStream{
		mctx:  mctx,
		queue: newChunkQueue(cfg.ChunkBytes(), s.queueDepth),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.ChunkFrames)
	devCfg.Alsa.NoMMap = 1

	if cfg.Device != "" {
		infos, idx, err := findDevice(mctx, cfg.Device)
		if err != nil {
			st.releaseContext()
			return nil, err
		}
		// The ID pointer refers into infos, which the stream keeps alive.
		st.infos = infos
		devCfg.Capture.DeviceID = st.infos[idx].ID.Pointer()
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { st.queue.write(in) },
		Stop: st.queue.close,
	})
	if err != nil {
		st.releaseContext()
		return nil, fmt.Errorf("mic: init device: %w", err)
	}
	st.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		st.releaseContext()
		return nil, fmt.Errorf("mic: start device: %w", err)
	}

	slog.Info("mic: capture started",
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"chunk_frames", cfg.ChunkFrames,
	)
	return st, nil
}

// Devices lists the names of the available capture devices.
func (s *MalgoSource) Devices() ([]string, error) {
	mctx, err := malgo.InitContext(s.backends, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("mic: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("mic: list devices: %w", err)
	}
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	return names, nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) ([]malgo.DeviceInfo, int, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, 0, fmt.Errorf("mic: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return infos, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

type malgoStream struct {
	mctx  *malgo.AllocatedContext
	dev   *malgo.Device
	infos []malgo.DeviceInfo
	queue *chunkQueue

	closeOnce sync.Once
}

func (s *malgoStream) Read(ctx context.Context) ([]byte, error) {
	return s.queue.Read(ctx)
}

func (s *malgoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.queue.close()
		if s.dev != nil {
			if stopErr := s.dev.Stop(); stopErr != nil {
				err = fmt.Errorf("mic: stop device: %w", stopErr)
			}
			s.dev.Uninit()
		}
		if dropped := s.queue.dropped.Load(); dropped > 0 {
			slog.Info("mic: capture stopped", "dropped_chunks", dropped)
		}
		s.releaseContext()
	})
	return err
}

func (s *malgoStream) releaseContext() {
	if s.mctx == nil {
		return
	}
	if err := s.mctx.Uninit(); err != nil {
		slog.Warn("mic: uninit context", "err", err)
	}
	s.mctx.Free()
	s.mctx = nil
}
