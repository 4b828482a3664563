package config_test

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voiceclip/internal/config"
	"github.com/MrWong99/voiceclip/pkg/provider/stt"
	"github.com/MrWong99/voiceclip/pkg/provider/stt/mock"
)

const fullYAML = `
server:
  log_level: debug
  listen_addr: ":9090"
clip:
  duration_seconds: 45
  output_dir: ~/clips
  format: MKV
  max_concurrent_saves: 3
  max_queued_saves: 0
video:
  width: 1280
  height: 720
  frame_rate: 60
  pixel_format: bgr24
audio:
  sample_rate: 48000
  channels: 1
detector:
  vocabulary: [clip, snap]
  canonical: clip
  threshold: 55
  cooldown: 3s
  history: 5
stt:
  name: deepgram
  api_key: secret
  language: en-US
stt_fallbacks:
  - name: whisper-native
    model_path: /models/base.bin
microphone:
  device: USB
  sample_rate: 16000
  chunk_frames: 1024
encoder:
  ffmpeg_path: /opt/ffmpeg
  timeout: 2m
capture:
  enabled: true
  video:
    format: x11grab
    device: ":1.0"
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.ListenAddr != ":9090" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	wantClip := config.ClipConfig{DurationSeconds: 45, OutputDir: "~/clips", Format: "mkv", MaxConcurrentSaves: 3, MaxQueuedSaves: ptr(0)}
	if !reflect.DeepEqual(cfg.Clip, wantClip) {
		t.Errorf("Clip = %+v", cfg.Clip)
	}
	if cfg.Video != (config.VideoConfig{Width: 1280, Height: 720, FrameRate: 60, PixelFormat: "bgr24"}) {
		t.Errorf("Video = %+v", cfg.Video)
	}
	if d := cfg.Detector; d.CooldownValue() != 3*time.Second || d.ThresholdValue() != 55 || d.HistoryValue() != 5 {
		t.Errorf("Detector = %+v", cfg.Detector)
	}
	if !slices.Equal(cfg.Detector.Vocabulary, []string{"clip", "snap"}) {
		t.Errorf("Vocabulary = %v", cfg.Detector.Vocabulary)
	}
	if len(cfg.STTFallbacks) != 1 || cfg.STTFallbacks[0].ModelPath != "/models/base.bin" {
		t.Errorf("STTFallbacks = %+v", cfg.STTFallbacks)
	}
	if cfg.Encoder.Timeout != 2*time.Minute || cfg.Encoder.FFmpegPath != "/opt/ffmpeg" {
		t.Errorf("Encoder = %+v", cfg.Encoder)
	}
	if !cfg.Capture.Enabled || cfg.Capture.Video.Device != ":1.0" {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := config.Default()
	if !reflect.DeepEqual(cfg.Clip, want.Clip) || cfg.Video != want.Video || cfg.Audio != want.Audio {
		t.Errorf("defaults differ: %+v", cfg)
	}
	if cfg.Clip.DurationSeconds != 30 || cfg.Clip.Format != "mp4" || cfg.Clip.OutputDir != "clips" {
		t.Errorf("Clip = %+v", cfg.Clip)
	}
	if cfg.Video != (config.VideoConfig{Width: 1920, Height: 1080, FrameRate: 30, PixelFormat: "rgb24"}) {
		t.Errorf("Video = %+v", cfg.Video)
	}
	if cfg.Audio != (config.AudioConfig{SampleRate: 44100, Channels: 2}) {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Microphone.SampleRate != 16000 || cfg.Microphone.ChunkFrames != 2048 {
		t.Errorf("Microphone = %+v", cfg.Microphone)
	}
	if cfg.Clip.QueuedSaves() != 8 {
		t.Errorf("QueuedSaves() = %d, want 8", cfg.Clip.QueuedSaves())
	}
	if d := cfg.Detector; d.ThresholdValue() != 40 || d.CooldownValue() != 2*time.Second || d.HistoryValue() != 3 {
		t.Errorf("Detector = %+v", cfg.Detector)
	}
	if cfg.STT.Name != "whisper-native" {
		t.Errorf("STT.Name = %q", cfg.STT.Name)
	}
}

func TestLoadFromReader_ExplicitZeroKept(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
detector:
  threshold: 0
  cooldown: 0s
  history: 0
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	d := cfg.Detector
	if d.Threshold == nil || d.Cooldown == nil || d.History == nil {
		t.Fatalf("explicit zeros left unset: %+v", d)
	}
	if d.ThresholdValue() != 0 || d.CooldownValue() != 0 || d.HistoryValue() != 0 {
		t.Errorf("Detector = threshold %v, cooldown %v, history %d; want all zero",
			d.ThresholdValue(), d.CooldownValue(), d.HistoryValue())
	}
}

func TestDetectorConfig_UnsetUsesDefaults(t *testing.T) {
	t.Parallel()

	var d config.DetectorConfig
	if d.ThresholdValue() != config.DefaultThreshold || d.CooldownValue() != config.DefaultCooldown || d.HistoryValue() != config.DefaultHistory {
		t.Errorf("zero DetectorConfig values = %v, %v, %d", d.ThresholdValue(), d.CooldownValue(), d.HistoryValue())
	}
	var c config.ClipConfig
	if c.QueuedSaves() != config.DefaultMaxQueuedSaves {
		t.Errorf("QueuedSaves() = %d, want %d", c.QueuedSaves(), config.DefaultMaxQueuedSaves)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("clip:\n  duration: 30\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func ptr[T any](v T) *T { return &v }

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults are valid", func(*config.Config) {}, ""},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"negative duration", func(c *config.Config) { c.Clip.DurationSeconds = -1 }, "clip.duration_seconds"},
		{"format with dot", func(c *config.Config) { c.Clip.Format = ".mp4" }, "clip.format"},
		{"format with path", func(c *config.Config) { c.Clip.Format = "../x" }, "clip.format"},
		{"zero saves", func(c *config.Config) { c.Clip.MaxConcurrentSaves = 0 }, "max_concurrent_saves"},
		{"bad pixel format", func(c *config.Config) { c.Video.PixelFormat = "yuv420p" }, "video.pixel_format"},
		{"zero width", func(c *config.Config) { c.Video.Width = 0 }, "video size"},
		{"three channels", func(c *config.Config) { c.Audio.Channels = 3 }, "audio.channels"},
		{"threshold too high", func(c *config.Config) { c.Detector.Threshold = ptr(100.0) }, "detector.threshold"},
		{"zero threshold", func(c *config.Config) { c.Detector.Threshold = ptr(0.0) }, ""},
		{"negative queue", func(c *config.Config) { c.Clip.MaxQueuedSaves = ptr(-1) }, "clip.max_queued_saves"},
		{"whisper without url", func(c *config.Config) { c.STT.Name = "whisper" }, "stt.base_url"},
		{"deepgram without key", func(c *config.Config) { c.STT.Name = "deepgram" }, "stt.api_key"},
		{"unknown stt only warns", func(c *config.Config) { c.STT.Name = "custom" }, ""},
		{"fallback without name", func(c *config.Config) {
			c.STTFallbacks = []config.ProviderEntry{{}}
		}, "stt_fallbacks[0].name"},
		{"fallback without url", func(c *config.Config) {
			c.STTFallbacks = []config.ProviderEntry{{Name: "whisper-native"}, {Name: "whisper"}}
		}, "stt_fallbacks[1].base_url"},
		{"negative timeout", func(c *config.Config) { c.Encoder.Timeout = -time.Second }, "encoder.timeout"},
		{"capture device without format", func(c *config.Config) {
			c.Capture.Enabled = true
			c.Capture.Audio.Device = "default"
		}, "capture.audio.format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Audio.Channels = 0
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	if got := strings.Count(err.Error(), "\n") + 1; got != 2 {
		t.Errorf("error lines = %d, want 2: %v", got, err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	base := config.Default()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		check       func(config.ConfigDiff) bool
		wantRestart []string
	}{
		{"no changes", func(*config.Config) {}, func(d config.ConfigDiff) bool { return !d.Changed() }, nil},
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug }, nil},
		{"duration", func(c *config.Config) { c.Clip.DurationSeconds = 10 },
			func(d config.ConfigDiff) bool { return d.DurationChanged }, nil},
		{"output dir", func(c *config.Config) { c.Clip.OutputDir = "/tmp/x" },
			func(d config.ConfigDiff) bool { return d.OutputDirChanged }, nil},
		{"format case only", func(c *config.Config) { c.Clip.Format = "MP4" },
			func(d config.ConfigDiff) bool { return !d.FormatChanged }, nil},
		{"format", func(c *config.Config) { c.Clip.Format = "mkv" },
			func(d config.ConfigDiff) bool { return d.FormatChanged }, nil},
		{"detector vocabulary", func(c *config.Config) { c.Detector.Vocabulary = []string{"snap"} },
			func(d config.ConfigDiff) bool { return d.DetectorChanged }, nil},
		{"detector cooldown to zero", func(c *config.Config) { c.Detector.Cooldown = ptr(time.Duration(0)) },
			func(d config.ConfigDiff) bool { return d.DetectorChanged }, nil},
		{"save queue", func(c *config.Config) { c.Clip.MaxQueuedSaves = ptr(1) },
			func(d config.ConfigDiff) bool { return !d.Changed() }, []string{"clip.max_queued_saves"}},
		{"model path is hot", func(c *config.Config) { c.STT.ModelPath = "/m.bin" },
			func(d config.ConfigDiff) bool { return d.ModelPathChanged }, nil},
		{"restart sections", func(c *config.Config) {
			c.Video.Width = 640
			c.STT.Language = "de"
			c.STTFallbacks = []config.ProviderEntry{{Name: "whisper-native"}}
			c.Capture.Enabled = true
		}, func(d config.ConfigDiff) bool { return !d.Changed() }, []string{"video", "stt", "stt_fallbacks", "capture"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := config.Default()
			tc.mutate(next)
			d := config.Diff(base, next)
			if !tc.check(d) {
				t.Errorf("Diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("unregistered: err = %v", err)
	}

	want := &mock.Provider{}
	var got config.ProviderEntry
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		got = e
		return want, nil
	})
	factoryErr := errors.New("no model")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) { return nil, factoryErr })

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://w"})
	if err != nil || p != want {
		t.Fatalf("CreateSTT = %v, %v", p, err)
	}
	if got.BaseURL != "http://w" {
		t.Errorf("factory got entry %+v", got)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, factoryErr) {
		t.Errorf("factory error not propagated: %v", err)
	}
	if names := reg.STTNames(); !slices.Equal(names, []string{"broken", "whisper"}) {
		t.Errorf("STTNames = %v", names)
	}

	// Providers are usable once created.
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err != nil {
		t.Errorf("StartStream: %v", err)
	}
}
