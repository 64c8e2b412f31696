package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cadence/internal/config"
)

const watcherUpdatedYAML = minimalYAML + `
server:
  log_level: debug
`

const watcherInvalidYAML = minimalYAML + `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func newWatched(t *testing.T, onChange func(old, new *config.Config)) (string, *config.Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	writeFile(t, path, minimalYAML)
	w, err := config.NewWatcher(path, onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w := newWatched(t, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	called := make(chan struct{}, 1)

	path, w := newWatched(t, func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	writeFile(t, path, watcherUpdatedYAML)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Server.LogLevel != config.LogInfo || gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q", gotOld.Server.LogLevel, gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() not updated")
	}
}

func TestWatcher_RenameSave(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	path, _ := newWatched(t, func(_, _ *config.Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	tmp := path + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("rename-based save not detected")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	path, w := newWatched(t, func(_, _ *config.Config) { called <- struct{}{} })

	writeFile(t, path, watcherInvalidYAML)
	select {
	case <-called:
		t.Fatal("callback invoked for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("invalid config replaced the current one")
	}
}

func TestWatcher_SameContentIgnored(t *testing.T) {
	t.Parallel()
	called := make(chan struct{}, 1)
	path, _ := newWatched(t, func(_, _ *config.Config) { called <- struct{}{} })

	writeFile(t, path, minimalYAML)
	select {
	case <-called:
		t.Fatal("callback invoked although content is unchanged")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w := newWatched(t, nil)
	w.Stop()
	w.Stop()
}
