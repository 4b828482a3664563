package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voiceclip/internal/config"
	"github.com/MrWong99/voiceclip/internal/observe"
	"github.com/MrWong99/voiceclip/internal/recognition"
	"github.com/MrWong99/voiceclip/internal/resilience"
	"github.com/MrWong99/voiceclip/pkg/audio/mic"
	"github.com/MrWong99/voiceclip/pkg/provider/stt"
)

// STTFactory builds the speech-to-text provider for one listen session.
// (*config.Registry).CreateSTT satisfies it.
type STTFactory func(config.ProviderEntry) (stt.Provider, error)

// ListenInfo holds metadata about the active listen session.
type ListenInfo struct {
	// SessionID identifies the session in logs.
	SessionID string

	// Provider is the STT provider name.
	Provider string

	// ModelPath is the model file used by local providers.
	ModelPath string

	StartedAt time.Time
}

// listenManager owns the lifecycle of the recognition loop. Only one loop
// runs at a time. All methods are safe for concurrent use.
type listenManager struct {
	mu     sync.Mutex
	active bool
	info   ListenInfo
	loop   *recognition.Loop
	cancel context.CancelFunc
	done   chan struct{}
	seq    int

	source   mic.Source
	factory  STTFactory
	observer recognition.Observer
	trigger  recognition.TriggerFunc
	metrics  *observe.Metrics

	entry     config.ProviderEntry
	fallbacks []config.ProviderEntry
	micCfg    mic.Config
	prompt    string
}

// setModelPath changes the model used from the next start on.
func (lm *listenManager) setModelPath(path string) {
	lm.mu.Lock()
	lm.entry.ModelPath = path
	lm.mu.Unlock()
}

// resolveEntry applies the model fallback and home expansion to e.
func resolveEntry(e config.ProviderEntry) config.ProviderEntry {
	if e.Name == "whisper-native" && e.ModelPath == "" {
		e.ModelPath = config.DefaultModelPath()
	}
	e.ModelPath = config.ExpandHome(e.ModelPath)
	return e
}

// buildProvider creates the primary provider and wraps it with any
// fallbacks that could be created. lm.mu must be held.
func (lm *listenManager) buildProvider(primary config.ProviderEntry) (stt.Provider, error) {
	p, err := lm.factory(primary)
	if len(lm.fallbacks) == 0 {
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", primary.Name, err)
		}
		return p, nil
	}

	var group *resilience.STTFallback
	add := func(name string, p stt.Provider) {
		if group == nil {
			group = resilience.NewSTTFallback(p, name, resilience.CircuitBreakerConfig{})
			return
		}
		group.AddFallback(name, p)
	}
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", primary.Name, err))
		slog.Warn("app: primary stt provider unavailable", "provider", primary.Name, "err", err)
	} else {
		add(primary.Name, p)
	}
	for _, e := range lm.fallbacks {
		e = resolveEntry(e)
		fp, err := lm.factory(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			slog.Warn("app: fallback stt provider unavailable", "provider", e.Name, "err", err)
			continue
		}
		add(e.Name, fp)
	}
	if group == nil {
		return nil, fmt.Errorf("app: create stt providers: %w", errors.Join(errs...))
	}
	return group, nil
}

// start launches a recognition loop. It does nothing if one is already
// running. The loop stops when ctx is done or stop is called.
func (lm *listenManager) start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.active {
		return nil
	}

	entry := resolveEntry(lm.entry)
	provider, err := lm.buildProvider(entry)
	if err != nil {
		return err
	}

	lm.seq++
	info := ListenInfo{
		SessionID: fmt.Sprintf("listen-%d", lm.seq),
		Provider:  entry.Name,
		ModelPath: entry.ModelPath,
		StartedAt: time.Now().UTC(),
	}

	loop := recognition.New(lm.source, provider, lm.observer, lm.trigger,
		recognition.WithMicConfig(lm.micCfg),
		recognition.WithLanguage(entry.Language),
		recognition.WithPrompt(lm.prompt),
		recognition.WithMetrics(lm.metrics),
	)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	lm.active = true
	lm.info = info
	lm.loop = loop
	lm.cancel = cancel
	lm.done = done

	go func() {
		defer close(done)
		defer cancel()

		err := loop.Run(loopCtx)
		if err != nil {
			slog.Error("app: recognition loop stopped", "session_id", info.SessionID, "err", err)
		}
		if c, ok := provider.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("app: close stt provider", "session_id", info.SessionID, "err", err)
			}
		}

		lm.mu.Lock()
		if lm.done == done {
			lm.active = false
			lm.info = ListenInfo{}
			lm.loop = nil
			lm.cancel = nil
			lm.done = nil
		}
		lm.mu.Unlock()
		slog.Info("listening stopped", "session_id", info.SessionID)
	}()

	slog.Info("listening started",
		"session_id", info.SessionID,
		"provider", info.Provider,
		"model_path", info.ModelPath,
		"device", lm.micCfg.Device,
	)
	return nil
}

// stop cancels the running loop and waits for it to release the microphone
// and the provider. It does nothing when no loop is running.
func (lm *listenManager) stop() {
	lm.mu.Lock()
	cancel, done := lm.cancel, lm.done
	lm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (lm *listenManager) isActive() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.active
}

// sessionActive reports whether the running loop has an open speech session.
func (lm *listenManager) sessionActive() bool {
	lm.mu.Lock()
	loop := lm.loop
	lm.mu.Unlock()
	return loop != nil && loop.SessionActive()
}

func (lm *listenManager) currentInfo() ListenInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.info
}
