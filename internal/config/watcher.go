package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"
)

// DefaultReloadInterval is how often a [Reloader] stats the config file.
const DefaultReloadInterval = 5 * time.Second

// Reload is one accepted edit of the config file.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	size  int64
	mtime time.Time
}

func (s fileStamp) same(o fileStamp) bool {
	return s.size == o.size && s.mtime.Equal(o.mtime)
}

// Reloader re-reads the config file when it changes on disk and hands edits
// that alter the effective config to apply. Edits that fail to parse or
// validate are logged and skipped; the last good config stays current.
// Formatting-only edits produce no [Reload].
type Reloader struct {
	path     string
	interval time.Duration
	apply    func(Reload)
	kick     chan struct{}

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// NewReloader watches path. base is the config the process started with;
// the first check compares the file against it, so edits made between
// startup and the first poll are not lost. apply may be nil.
func NewReloader(path string, base *Config, apply func(Reload), opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:     path,
		interval: DefaultReloadInterval,
		apply:    apply,
		kick:     make(chan struct{}, 1),
		current:  base,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Current returns the most recently accepted config.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Kick asks a running [Reloader.Run] to check the file now, e.g. on SIGHUP.
func (r *Reloader) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run checks the file once, then on every tick or [Reloader.Kick] until ctx
// is done. apply is called from this goroutine only.
func (r *Reloader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Check(); err != nil {
			slog.Warn("config: reload rejected, keeping current settings", "path", r.path, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.kick:
		}
	}
}

// Check reloads the file if its size or modification time moved and reports
// whether a [Reload] was applied.
func (r *Reloader) Check() (bool, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return false, fmt.Errorf("config: stat %s: %w", r.path, err)
	}
	stamp := fileStamp{size: info.Size(), mtime: info.ModTime()}

	r.mu.Lock()
	seen := stamp.same(r.stamp)
	r.mu.Unlock()
	if seen {
		return false, nil
	}

	cfg, err := Load(r.path)
	if err != nil {
		// A broken file is reported once per edit.
		r.mu.Lock()
		r.stamp = stamp
		r.mu.Unlock()
		return false, err
	}

	r.mu.Lock()
	r.stamp = stamp
	old := r.current
	if reflect.DeepEqual(old, cfg) {
		r.mu.Unlock()
		return false, nil
	}
	r.current = cfg
	r.mu.Unlock()

	rl := Reload{Old: old, New: cfg, Diff: Diff(old, cfg)}
	slog.Info("config: file changed",
		"path", r.path,
		"hot", rl.Diff.Changed(),
		"restart_required", rl.Diff.RestartRequired,
	)
	if r.apply != nil {
		r.apply(rl)
	}
	return true, nil
}
