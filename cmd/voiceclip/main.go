// Command voiceclip keeps the last few seconds of screen and audio in memory
// and saves them as a video file when you say "clip".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voiceclip/internal/app"
	"github.com/MrWong99/voiceclip/internal/config"
	"github.com/MrWong99/voiceclip/internal/health"
	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/voicecmd"
	"github.com/MrWong99/voiceclip/pkg/audio/mic"
	"github.com/MrWong99/voiceclip/pkg/provider/stt"
	"github.com/MrWong99/voiceclip/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voiceclip/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("list-devices", false, "print the available microphones and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceclip: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	source := mic.NewMalgoSource()
	if *listDevices {
		return printDevices(source)
	}

	slog.Info("voiceclip starting",
		"config", *configPath,
		"from_file", fromFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Detector)

	clipper, err := app.New(cfg, app.Deps{Mic: source, STT: reg.CreateSTT},
		app.WithMetrics(tel.Metrics),
		app.WithLevelVar(&level),
	)
	if err != nil {
		slog.Error("failed to initialise clipper", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if fromFile {
		reloader := config.NewReloader(*configPath, cfg, func(r config.Reload) {
			clipper.ApplyConfig(r.Old, r.New)
		})
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, re-reading config")
					reloader.Kick()
				}
			}
		}()
		go func() { _ = reloader.Run(ctx) }()
	}

	// ── Status server (optional) ──────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newStatusServer(cfg.Server.ListenAddr, clipper, tel)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "err", err)
			}
		}()
	}

	printStartupSummary(cfg)
	slog.Info("ready, say \"clip\" to save the last seconds; press Ctrl+C to quit",
		"seconds", cfg.Clip.DurationSeconds,
		"output_dir", clipper.OutputDir(),
	)

	runErr := clipper.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("stopping, waiting for in-flight saves")
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("status server shutdown error", "err", err)
		}
	}
	if err := clipper.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "voiceclip: config file %q not found, using defaults\n", path)
		return config.Default(), false, nil
	case err != nil:
		return nil, false, err
	}
	return cfg, true, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the STT factories into reg. Each factory
// receives a config.ProviderEntry and constructs the provider from the real
// implementation packages.
func registerBuiltinProviders(reg *config.Registry, dc config.DetectorConfig) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithKeywords(triggerWords(dc)...)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		return whisper.NewNative(entry.ModelPath, opts...)
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

func triggerWords(dc config.DetectorConfig) []string {
	if len(dc.Vocabulary) == 0 {
		return voicecmd.DefaultVocabulary
	}
	return dc.Vocabulary
}

// ── Status server ─────────────────────────────────────────────────────────────

func newStatusServer(addr string, c *app.Clipper, tel *observe.Telemetry) *http.Server {
	mux := http.NewServeMux()
	health.New(c.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", tel.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(tel.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voiceclip — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Window", fmt.Sprintf("%d s", cfg.Clip.DurationSeconds))
	printRow("Video", fmt.Sprintf("%dx%d@%d", cfg.Video.Width, cfg.Video.Height, cfg.Video.FrameRate))
	printRow("Audio", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("Format", cfg.Clip.Format)
	printRow("STT", cfg.STT.Name)
	if cfg.Capture.Enabled {
		printRow("Capture", "ffmpeg")
	} else {
		printRow("Capture", "(external)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func printDevices(source *mic.MalgoSource) int {
	names, err := source.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceclip: list devices: %v\n", err)
		return 1
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes small
// numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	v, ok := opts[key].(int)
	if !ok {
		return 0
	}
	return v
}
