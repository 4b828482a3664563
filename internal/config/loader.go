package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultDurationSeconds    = 30
	DefaultOutputDir          = "clips"
	DefaultFormat             = "mp4"
	DefaultMaxConcurrentSaves = 2
	DefaultMaxQueuedSaves     = 8
	DefaultWidth              = 1920
	DefaultHeight             = 1080
	DefaultFrameRate          = 30
	DefaultPixelFormat        = "rgb24"
	DefaultSampleRate         = 44100
	DefaultChannels           = 2
	DefaultMicSampleRate      = 16000
	DefaultMicChunkFrames     = 2048
	DefaultSTT                = "whisper-native"
	DefaultCanonical          = "clip"
	DefaultThreshold          = 40
	DefaultCooldown           = 2 * time.Second
	DefaultHistory            = 3
	DefaultFFmpegPath         = "ffmpeg"
	DefaultLogLevel           = LogInfo
)

// ValidSTTNames lists the speech-to-text engines built into voiceclip.
var ValidSTTNames = []string{"whisper", "whisper-native", "deepgram"}

// ValidPixelFormats lists the packed 24-bit formats the window can hold.
var ValidPixelFormats = []string{"rgb24", "bgr24"}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates. An
// empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Pointer fields are filled only when
// the key was absent, so an explicit zero survives.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, DefaultLogLevel)
	setDefault(&cfg.Clip.DurationSeconds, DefaultDurationSeconds)
	setDefault(&cfg.Clip.OutputDir, DefaultOutputDir)
	setDefault(&cfg.Clip.Format, DefaultFormat)
	cfg.Clip.Format = strings.ToLower(cfg.Clip.Format)
	setDefault(&cfg.Clip.MaxConcurrentSaves, DefaultMaxConcurrentSaves)
	setDefaultPtr(&cfg.Clip.MaxQueuedSaves, DefaultMaxQueuedSaves)
	setDefault(&cfg.Video.Width, DefaultWidth)
	setDefault(&cfg.Video.Height, DefaultHeight)
	setDefault(&cfg.Video.FrameRate, DefaultFrameRate)
	setDefault(&cfg.Video.PixelFormat, DefaultPixelFormat)
	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.Channels, DefaultChannels)
	setDefault(&cfg.Detector.Canonical, DefaultCanonical)
	setDefaultPtr(&cfg.Detector.Threshold, DefaultThreshold)
	setDefaultPtr(&cfg.Detector.Cooldown, DefaultCooldown)
	setDefaultPtr(&cfg.Detector.History, DefaultHistory)
	setDefault(&cfg.STT.Name, DefaultSTT)
	setDefault(&cfg.Microphone.SampleRate, DefaultMicSampleRate)
	setDefault(&cfg.Microphone.ChunkFrames, DefaultMicChunkFrames)
	setDefault(&cfg.Encoder.FFmpegPath, DefaultFFmpegPath)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

func setDefaultPtr[T any](field **T, def T) {
	if *field == nil {
		*field = &def
	}
}

// Validate checks cfg for incoherent values and returns every failure
// joined into one error.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	if cfg.Clip.DurationSeconds <= 0 {
		add("clip.duration_seconds must be positive, got %d", cfg.Clip.DurationSeconds)
	}
	if !validFormat(cfg.Clip.Format) {
		add("clip.format %q must be a non-empty alphanumeric file extension", cfg.Clip.Format)
	}
	if cfg.Clip.MaxConcurrentSaves < 1 {
		add("clip.max_concurrent_saves must be at least 1, got %d", cfg.Clip.MaxConcurrentSaves)
	}
	if q := cfg.Clip.QueuedSaves(); q < 0 {
		add("clip.max_queued_saves must not be negative, got %d", q)
	}

	if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 {
		add("video size %dx%d must be positive", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.Video.FrameRate <= 0 {
		add("video.frame_rate must be positive, got %d", cfg.Video.FrameRate)
	}
	if !slices.Contains(ValidPixelFormats, cfg.Video.PixelFormat) {
		add("video.pixel_format %q is invalid; valid values: %s", cfg.Video.PixelFormat, strings.Join(ValidPixelFormats, ", "))
	}

	if cfg.Audio.SampleRate <= 0 {
		add("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		add("audio.channels must be 1 or 2, got %d", cfg.Audio.Channels)
	}

	if th := cfg.Detector.ThresholdValue(); th < 0 || th >= 100 {
		add("detector.threshold %.1f is out of range [0, 100)", th)
	}

	validateProvider("stt", cfg.STT, add)
	for i, fb := range cfg.STTFallbacks {
		if fb.Name == "" {
			add("stt_fallbacks[%d].name is required", i)
			continue
		}
		validateProvider(fmt.Sprintf("stt_fallbacks[%d]", i), fb, add)
	}

	if cfg.Microphone.SampleRate <= 0 {
		add("microphone.sample_rate must be positive, got %d", cfg.Microphone.SampleRate)
	}
	if cfg.Microphone.ChunkFrames <= 0 {
		add("microphone.chunk_frames must be positive, got %d", cfg.Microphone.ChunkFrames)
	}

	if cfg.Encoder.Timeout < 0 {
		add("encoder.timeout must not be negative, got %s", cfg.Encoder.Timeout)
	}

	if cfg.Capture.Enabled {
		for name, in := range map[string]InputConfig{"video": cfg.Capture.Video, "audio": cfg.Capture.Audio} {
			if in.Device != "" && in.Format == "" {
				add("capture.%s.format is required when capture.%s.device is set", name, name)
			}
		}
	}

	return errors.Join(errs...)
}

func validateProvider(key string, e ProviderEntry, add func(string, ...any)) {
	switch e.Name {
	case "whisper":
		if e.BaseURL == "" {
			add("%s.base_url is required for the whisper provider", key)
		}
	case "deepgram":
		if e.APIKey == "" {
			add("%s.api_key is required for the deepgram provider", key)
		}
	case "whisper-native":
	default:
		slog.Warn("unknown stt provider name; it must be registered by the embedding program",
			"key", key,
			"name", e.Name,
			"known", ValidSTTNames,
		)
	}
}

func validFormat(f string) bool {
	if f == "" {
		return false
	}
	for _, r := range f {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
