package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
assistant:
  auto_speak: true
`

const watcherUpdatedYAML = `
server:
  log_level: debug
assistant:
  auto_speak: false
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func newTestWatcher(t *testing.T, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "luna.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, cfgPath
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	type change struct{ old, new *config.Config }
	changes := make(chan change, 4)
	w, cfgPath := newTestWatcher(t, func(old, new *config.Config) {
		changes <- change{old, new}
	})

	writeFile(t, cfgPath, watcherUpdatedYAML)

	var c change
	select {
	case c = <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked")
	}
	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels old=%q new=%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}

	d := config.Diff(c.old, c.new)
	if !d.LogLevelChanged || !d.PreferencesChanged || d.AutoSpeak {
		t.Errorf("diff = %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current() not updated")
	}
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	t.Parallel()
	changes := make(chan *config.Config, 4)
	_, cfgPath := newTestWatcher(t, func(_, new *config.Config) { changes <- new })

	tmp := cfgPath + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level = %q", cfg.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked after rename")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls int
	)
	w, cfgPath := newTestWatcher(t, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback invoked %d times for an invalid config", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("Current() replaced by an invalid config")
	}
}

func TestWatcher_UnchangedContentIgnored(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		calls int
	)
	_, cfgPath := newTestWatcher(t, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, cfgPath, watcherValidYAML)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback invoked %d times for identical content", calls)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/luna.yaml", nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, nil)
	w.Stop()
	w.Stop()
}
