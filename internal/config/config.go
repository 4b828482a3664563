// Package config provides the configuration schema, loader, hot-reload
// watcher and STT provider registry for voiceclip.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader], which apply defaults and validate.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clip     ClipConfig     `yaml:"clip"`
	Video    VideoConfig    `yaml:"video"`
	Audio    AudioConfig    `yaml:"audio"`
	Detector DetectorConfig `yaml:"detector"`
	STT      ProviderEntry  `yaml:"stt"`

	// STTFallbacks are tried in order when the primary engine cannot start
	// a speech session.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	Microphone MicrophoneConfig `yaml:"microphone"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Capture    CaptureConfig    `yaml:"capture"`
}

// ServerConfig holds logging and the status endpoint.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics. Empty disables the
	// status server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// ClipConfig controls the retained window and the saved files.
type ClipConfig struct {
	// DurationSeconds is the length of the sliding window. Changing it at
	// runtime discards what is buffered.
	DurationSeconds int `yaml:"duration_seconds"`

	// OutputDir receives finished clips. A leading "~" is expanded.
	OutputDir string `yaml:"output_dir"`

	// Format is the container extension, e.g. "mp4" or "mkv".
	Format string `yaml:"format"`

	// MaxConcurrentSaves bounds the number of encodes running at once.
	MaxConcurrentSaves int `yaml:"max_concurrent_saves"`

	// MaxQueuedSaves bounds the snapshots waiting for a free encoder. A
	// trigger arriving with the queue full is dropped. Nil means
	// DefaultMaxQueuedSaves; 0 disables queueing.
	MaxQueuedSaves *int `yaml:"max_queued_saves"`
}

// QueuedSaves returns MaxQueuedSaves, or DefaultMaxQueuedSaves when unset.
func (c ClipConfig) QueuedSaves() int { return valueOr(c.MaxQueuedSaves, DefaultMaxQueuedSaves) }

// VideoConfig describes the raw frames held in the window.
type VideoConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FrameRate   int    `yaml:"frame_rate"`
	PixelFormat string `yaml:"pixel_format"`
}

// AudioConfig describes the PCM held in the window.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// DetectorConfig tunes trigger matching and debouncing.
type DetectorConfig struct {
	// Vocabulary lists exact-match trigger tokens.
	Vocabulary []string `yaml:"vocabulary"`

	// Canonical is the word fuzzy matching compares against.
	Canonical string `yaml:"canonical"`

	// Threshold is the fuzzy score on a 0-100 scale a token must exceed.
	// Nil means DefaultThreshold.
	Threshold *float64 `yaml:"threshold"`

	// Cooldown is the minimum time between accepted triggers. Nil means
	// DefaultCooldown; zero or negative disables it.
	Cooldown *time.Duration `yaml:"cooldown"`

	// History is the number of accepted utterances remembered for duplicate
	// suppression. Nil means DefaultHistory; zero or negative disables it.
	History *int `yaml:"history"`
}

// ThresholdValue returns Threshold, or DefaultThreshold when unset.
func (d DetectorConfig) ThresholdValue() float64 { return valueOr(d.Threshold, DefaultThreshold) }

// CooldownValue returns Cooldown, or DefaultCooldown when unset.
func (d DetectorConfig) CooldownValue() time.Duration { return valueOr(d.Cooldown, DefaultCooldown) }

// HistoryValue returns History, or DefaultHistory when unset.
func (d DetectorConfig) HistoryValue() int { return valueOr(d.History, DefaultHistory) }

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// ProviderEntry selects and configures the speech-to-text engine. Name is
// looked up in the [Registry].
type ProviderEntry struct {
	// Name is one of "whisper", "whisper-native" or "deepgram".
	Name string `yaml:"name"`

	// BaseURL is the whisper.cpp server URL, or a Deepgram endpoint override.
	BaseURL string `yaml:"base_url"`

	APIKey string `yaml:"api_key"`

	// Model selects a model by name on hosted or server engines.
	Model string `yaml:"model"`

	// ModelPath is the local model file for whisper-native. Empty falls back
	// to [DefaultModelPath]. Changes apply on the next listen start.
	ModelPath string `yaml:"model_path"`

	Language string `yaml:"language"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// MicrophoneConfig selects the command microphone.
type MicrophoneConfig struct {
	// Device is a substring of the capture device name. Empty uses the
	// system default.
	Device      string `yaml:"device"`
	SampleRate  int    `yaml:"sample_rate"`
	ChunkFrames int    `yaml:"chunk_frames"`
}

// EncoderConfig configures ffmpeg.
type EncoderConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Timeout bounds a single encode. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig configures the built-in screen and audio capture.
type CaptureConfig struct {
	// Enabled starts ffmpeg capture into the window. When false, frames and
	// audio must be pushed by an embedding program.
	Enabled bool `yaml:"enabled"`

	// Video and Audio override the platform default inputs.
	Video InputConfig `yaml:"video"`
	Audio InputConfig `yaml:"audio"`
}

// InputConfig names an ffmpeg input device.
type InputConfig struct {
	Format string   `yaml:"format"`
	Device string   `yaml:"device"`
	Args   []string `yaml:"args"`
}
