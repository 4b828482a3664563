package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voiceclip/internal/config"
)

const baseYAML = `
server:
  log_level: info
clip:
  duration_seconds: 30
  output_dir: clips
`

// reloadRecorder collects every Reload handed to apply.
type reloadRecorder struct {
	mu      sync.Mutex
	reloads []config.Reload
}

func (r *reloadRecorder) apply(rl config.Reload) {
	r.mu.Lock()
	r.reloads = append(r.reloads, rl)
	r.mu.Unlock()
}

func (r *reloadRecorder) all() []config.Reload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reloads)
}

// editFile rewrites path and moves its mtime forward by step so filesystems
// with coarse timestamps still see a new version.
func editFile(t *testing.T, path, content string, step int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	ts := time.Now().Add(time.Duration(step) * time.Minute)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// newReloader writes baseYAML and returns a Reloader started from it.
func newReloader(t *testing.T) (*config.Reloader, *reloadRecorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voiceclip.yaml")
	editFile(t, path, baseYAML, 0)
	base, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec := &reloadRecorder{}
	return config.NewReloader(path, base, rec.apply), rec, path
}

func TestReloader_UnchangedFileIsQuiet(t *testing.T) {
	t.Parallel()

	r, rec, _ := newReloader(t)
	for range 2 {
		applied, err := r.Check()
		if err != nil || applied {
			t.Fatalf("Check() = %v, %v; want false, nil", applied, err)
		}
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("apply called %d times for an untouched file", n)
	}
}

func TestReloader_EditCarriesDiff(t *testing.T) {
	t.Parallel()

	r, rec, path := newReloader(t)
	editFile(t, path, `
server:
  log_level: debug
clip:
  duration_seconds: 10
  output_dir: clips
  max_concurrent_saves: 4
`, 1)

	applied, err := r.Check()
	if err != nil || !applied {
		t.Fatalf("Check() = %v, %v; want true, nil", applied, err)
	}
	reloads := rec.all()
	if len(reloads) != 1 {
		t.Fatalf("reloads = %d, want 1", len(reloads))
	}
	rl := reloads[0]
	if rl.Old.Clip.DurationSeconds != 30 || rl.New.Clip.DurationSeconds != 10 {
		t.Errorf("duration %d -> %d, want 30 -> 10", rl.Old.Clip.DurationSeconds, rl.New.Clip.DurationSeconds)
	}
	if !rl.Diff.DurationChanged || !rl.Diff.LogLevelChanged || rl.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("Diff = %+v", rl.Diff)
	}
	if !slices.Equal(rl.Diff.RestartRequired, []string{"clip.max_concurrent_saves"}) {
		t.Errorf("RestartRequired = %v", rl.Diff.RestartRequired)
	}
	if r.Current() != rl.New {
		t.Error("Current() is not the reloaded config")
	}
}

func TestReloader_FormattingOnlyEditIgnored(t *testing.T) {
	t.Parallel()

	r, rec, path := newReloader(t)
	editFile(t, path, "# clip settings\n"+baseYAML+"\n", 1)

	if applied, err := r.Check(); err != nil || applied {
		t.Fatalf("Check() = %v, %v; want false, nil", applied, err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("apply called %d times for a comment edit", n)
	}
}

func TestReloader_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()

	r, rec, path := newReloader(t)
	before := r.Current()

	editFile(t, path, "clip:\n  format: .mp4\n", 1)
	if _, err := r.Check(); err == nil {
		t.Fatal("Check accepted an invalid format")
	}
	if _, err := r.Check(); err != nil {
		t.Errorf("same broken file reported twice: %v", err)
	}
	if r.Current() != before {
		t.Error("Current() replaced by an invalid edit")
	}

	// Fixing the file is picked up on the next check.
	editFile(t, path, "clip:\n  format: mkv\n", 2)
	if applied, err := r.Check(); err != nil || !applied {
		t.Fatalf("Check() after fix = %v, %v", applied, err)
	}
	if reloads := rec.all(); len(reloads) != 1 || !reloads[0].Diff.FormatChanged {
		t.Errorf("reloads = %+v, want one format change", reloads)
	}
}

func TestReloader_MissingFile(t *testing.T) {
	t.Parallel()

	r := config.NewReloader(filepath.Join(t.TempDir(), "gone.yaml"), config.Default(), nil)
	if _, err := r.Check(); err == nil {
		t.Fatal("Check on a missing file succeeded")
	}
}

func TestReloader_RunPicksUpStartupEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voiceclip.yaml")
	editFile(t, path, baseYAML, 0)
	base, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Edited after the process read it, before the reloader started.
	editFile(t, path, "clip:\n  duration_seconds: 20\n  output_dir: clips\n", 1)

	rec := &reloadRecorder{}
	r := config.NewReloader(path, base, rec.apply, config.WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitReloads(t, rec, 1)
	if got := rec.all()[0].New.Clip.DurationSeconds; got != 20 {
		t.Errorf("duration = %d, want 20", got)
	}

	// Kick re-reads without waiting for the hour-long tick.
	editFile(t, path, "clip:\n  duration_seconds: 25\n  output_dir: clips\n", 2)
	r.Kick()
	waitReloads(t, rec, 2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func waitReloads(t *testing.T, rec *reloadRecorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d reloads, want %d", len(rec.all()), n)
		}
		time.Sleep(time.Millisecond)
	}
}
