// Package store is the durable Config Store: it owns the per-user state
// directory and persists global settings and the process registry to it,
// atomically.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	configFileName   = "config.json"
	registryFileName = "processes.json"
	logsSubdir       = "logs"
	pidsSubdir       = "pids"
)

// defaultSettings mirrors the global settings a fresh state directory is
// seeded with when config.json does not yet exist.
var defaultSettings = map[string]any{
	"max_restarts_default":       10,
	"restart_delay_default_ms":   1000,
	"max_memory_restart_default": "",
	"log_level":                  "info",
}

// RegistryOptions is the "options" object of a registry record: everything
// needed to reconstruct a ManagedProcess's Spec on resurrection.
type RegistryOptions struct {
	Cwd              string            `json:"cwd"`
	Args             []string          `json:"args"`
	Env              map[string]string `json:"env"`
	Interpreter      string            `json:"interpreter"`
	MaxRestarts      int               `json:"max_restarts"`
	RestartDelay     int               `json:"restart_delay"`
	AutoRestart      bool              `json:"autorestart"`
	Watch            bool              `json:"watch"`
	MaxMemoryRestart *string           `json:"max_memory_restart"`
}

// RegistryRecord is one entry of processes.json: enough to reason about
// resurrection, but never the transient restart_count.
type RegistryRecord struct {
	Script  string          `json:"script"`
	PID     *int            `json:"pid"`
	Status  string          `json:"status"`
	Options RegistryOptions `json:"options"`
}

// Store is the Config Store over a single state directory.
type Store struct {
	mu  sync.Mutex
	dir string
	log *slog.Logger
}

// Open ensures dir, dir/logs, and dir/pids exist and returns a Store over
// them. Creation is idempotent.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, sub := range []string{"", logsSubdir, pidsSubdir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create state dir %s: %w", filepath.Join(dir, sub), err)
		}
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string          { return s.dir }
func (s *Store) LogsDir() string      { return filepath.Join(s.dir, logsSubdir) }
func (s *Store) PIDsDir() string      { return filepath.Join(s.dir, pidsSubdir) }
func (s *Store) configPath() string   { return filepath.Join(s.dir, configFileName) }
func (s *Store) registryPath() string { return filepath.Join(s.dir, registryFileName) }

// LogPath returns the stdout log path for a process name.
func (s *Store) LogPath(name string) string { return filepath.Join(s.LogsDir(), name+".log") }

// ErrorLogPath returns the stderr + diagnostics log path for a process name.
func (s *Store) ErrorLogPath(name string) string {
	return filepath.Join(s.LogsDir(), name+".error.log")
}

// PIDFilePath returns the PID file path for a process name.
func (s *Store) PIDFilePath(name string) string { return filepath.Join(s.PIDsDir(), name+".pid") }

// Get returns a global setting, falling back to its default when the
// config file or the key is missing.
func (s *Store) Get(key string) (any, bool) {
	settings, err := s.loadSettings()
	if err != nil {
		s.log.Warn("config.json unreadable; using defaults", "error", err)
		settings = cloneDefaults()
	}
	v, ok := settings[key]
	if !ok {
		v, ok = defaultSettings[key]
	}
	return v, ok
}

// Set writes a single global setting through to disk.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.loadSettings()
	if err != nil {
		settings = cloneDefaults()
	}
	settings[key] = value
	return s.saveSettings(settings)
}

func (s *Store) loadSettings() (map[string]any, error) {
	data, err := os.ReadFile(s.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cloneDefaults(), nil
		}
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.configPath(), err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m, nil
}

func (s *Store) saveSettings(settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.configPath(), data)
}

// intSetting returns key as an int, tolerating the float64 that JSON
// decoding produces for numbers read back from config.json.
func (s *Store) intSetting(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// DefaultMaxRestarts returns the persisted max_restarts_default setting.
func (s *Store) DefaultMaxRestarts() int { return s.intSetting("max_restarts_default") }

// DefaultRestartDelayMS returns the persisted restart_delay_default_ms setting.
func (s *Store) DefaultRestartDelayMS() int { return s.intSetting("restart_delay_default_ms") }

// DefaultMaxMemoryRestart returns the persisted max_memory_restart_default
// setting, empty when unset.
func (s *Store) DefaultMaxMemoryRestart() string {
	v, ok := s.Get("max_memory_restart_default")
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// LogLevel maps the persisted log_level setting to a slog.Level, falling
// back to info for unknown values.
func (s *Store) LogLevel() slog.Level {
	v, ok := s.Get("log_level")
	if !ok {
		return slog.LevelInfo
	}
	str, _ := v.(string)
	switch strings.ToLower(str) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadRegistry returns the persisted registry, or an empty map if the file
// is missing or corrupt. Corruption is never raised to the caller; it is
// reported as a health signal on stderr via slog.
func (s *Store) LoadRegistry() map[string]RegistryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]RegistryRecord)
	data, err := os.ReadFile(s.registryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("processes.json unreadable; starting from an empty registry", "error", err)
		}
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Error("processes.json corrupt; starting from an empty registry", "error", err)
		return make(map[string]RegistryRecord)
	}
	return out
}

// SaveRegistry atomically replaces processes.json.
func (s *Store) SaveRegistry(reg map[string]RegistryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return writeAtomic(s.registryPath(), data)
}

func cloneDefaults() map[string]any {
	m := make(map[string]any, len(defaultSettings))
	for k, v := range defaultSettings {
		m[k] = v
	}
	return m
}

// writeAtomic serializes data to a sibling temp file, fsyncs it, and
// renames it over path, so a reader never observes a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
