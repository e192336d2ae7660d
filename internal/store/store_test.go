package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesSubdirs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, sub := range []string{"", "logs", "pids"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist, err=%v", sub, err)
		}
	}
	if s.Dir() != dir {
		t.Fatalf("Dir() = %s, want %s", s.Dir(), dir)
	}
}

func TestPathHelpers(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, want := s.LogPath("web"), filepath.Join(s.LogsDir(), "web.log"); got != want {
		t.Errorf("LogPath = %s, want %s", got, want)
	}
	if got, want := s.ErrorLogPath("web"), filepath.Join(s.LogsDir(), "web.error.log"); got != want {
		t.Errorf("ErrorLogPath = %s, want %s", got, want)
	}
	if got, want := s.PIDFilePath("web"), filepath.Join(s.PIDsDir(), "web.pid"); got != want {
		t.Errorf("PIDFilePath = %s, want %s", got, want)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("log_level", "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := s.Get("log_level")
	if !ok || v != "debug" {
		t.Fatalf("Get(log_level) = %v, %v; want debug, true", v, ok)
	}
}

func TestGetFallsBackToDefault(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, ok := s.Get("max_restarts_default")
	if !ok {
		t.Fatal("expected default to be present")
	}
	if n, ok := v.(int); !ok || n != 10 {
		t.Fatalf("Get(max_restarts_default) = %v, want 10", v)
	}
}

func TestTypedSettingAccessors(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.DefaultMaxRestarts(); got != 10 {
		t.Fatalf("DefaultMaxRestarts() = %d, want 10", got)
	}
	if got := s.DefaultRestartDelayMS(); got != 1000 {
		t.Fatalf("DefaultRestartDelayMS() = %d, want 1000", got)
	}
	if got := s.DefaultMaxMemoryRestart(); got != "" {
		t.Fatalf("DefaultMaxMemoryRestart() = %q, want empty", got)
	}
	if got := s.LogLevel(); got != slog.LevelInfo {
		t.Fatalf("LogLevel() = %v, want info", got)
	}

	// A written-through value survives re-reading as JSON (numbers come
	// back as float64) and still maps through the typed accessors.
	if err := s.Set("max_restarts_default", 25); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("log_level", "warn"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.DefaultMaxRestarts(); got != 25 {
		t.Fatalf("DefaultMaxRestarts() after Set = %d, want 25", got)
	}
	if got := s.LogLevel(); got != slog.LevelWarn {
		t.Fatalf("LogLevel() after Set = %v, want warn", got)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pid := 1234
	reg := map[string]RegistryRecord{
		"web": {
			Script: "/srv/app.py",
			PID:    &pid,
			Status: "online",
			Options: RegistryOptions{
				Cwd:         "/srv",
				Args:        []string{"--port", "8080"},
				Env:         map[string]string{"PORT": "8080"},
				Interpreter: "python3",
				MaxRestarts: 10,
				AutoRestart: true,
			},
		},
	}
	if err := s.SaveRegistry(reg); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}
	got := s.LoadRegistry()
	rec, ok := got["web"]
	if !ok {
		t.Fatal("expected web entry in loaded registry")
	}
	if rec.Script != "/srv/app.py" || rec.PID == nil || *rec.PID != 1234 {
		t.Fatalf("unexpected round-tripped record: %+v", rec)
	}
	if rec.Options.Interpreter != "python3" || !rec.Options.AutoRestart {
		t.Fatalf("unexpected round-tripped options: %+v", rec.Options)
	}
}

func TestLoadRegistryMissingFileIsEmpty(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reg := s.LoadRegistry()
	if len(reg) != 0 {
		t.Fatalf("expected empty registry, got %v", reg)
	}
}

func TestLoadRegistryCorruptFileFallsBackEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, registryFileName), []byte("{not json"), 0o640); err != nil {
		t.Fatalf("write corrupt registry: %v", err)
	}
	reg := s.LoadRegistry()
	if len(reg) != 0 {
		t.Fatalf("expected empty registry on corruption, got %v", reg)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := writeAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.json" {
		t.Fatalf("expected only out.json in %s, got %v", dir, entries)
	}
}
