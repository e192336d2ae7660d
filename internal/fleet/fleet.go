// Package fleet loads a batch of start specs from a single TOML document
// (a "fleet file"), so a caller can declare several managed processes at
// once instead of issuing one start per process. It layers above, and
// never replaces, the per-process JSON registry the Config Store owns.
package fleet

import (
	"fmt"

	"github.com/hostpm/hostpm/internal/supervisor"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Entry is one [[process]] table of a fleet file. Restart-policy fields
// are pointers so an omitted key gets the same defaults the CLI flags
// carry, while an explicit `autorestart = false` or `max_restarts = 0`
// still means what it says.
type Entry struct {
	Name             string            `mapstructure:"name"`
	Script           string            `mapstructure:"script"`
	Interpreter      string            `mapstructure:"interpreter"`
	Args             []string          `mapstructure:"args"`
	Env              map[string]string `mapstructure:"env"`
	Cwd              string            `mapstructure:"cwd"`
	AutoRestart      *bool             `mapstructure:"autorestart"`
	MaxRestarts      *int              `mapstructure:"max_restarts"`
	RestartDelayMS   *int              `mapstructure:"restart_delay_ms"`
	MaxMemoryRestart string            `mapstructure:"max_memory_restart"`
	Watch            bool              `mapstructure:"watch"`
}

// Defaults for omitted restart-policy keys, matching the CLI flag defaults.
const (
	defaultMaxRestarts    = 10
	defaultRestartDelayMS = 1000
)

// Document is the top-level shape of a fleet file.
type Document struct {
	GlobalEnv map[string]string `mapstructure:"global_env"`
	EnvFile   string            `mapstructure:"env_file"`
	Process   []Entry           `mapstructure:"process"`
}

// Load parses a TOML fleet file at path via viper.
func Load(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read fleet file %s: %w", path, err)
	}
	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode fleet file %s: %w", path, err)
	}
	return &doc, nil
}

// ResolvedGlobalEnv resolves the document's global_env section, merging in an
// env_file path when given. Values from env_file take precedence over
// global_env entries with the same key, so an operator can override a
// fleet-wide default from a file without editing the TOML itself.
func (d *Document) ResolvedGlobalEnv() (map[string]string, error) {
	out := make(map[string]string, len(d.GlobalEnv))
	for k, v := range d.GlobalEnv {
		out[k] = v
	}
	if d.EnvFile == "" {
		return out, nil
	}
	pairs, err := gotenv.Read(d.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", d.EnvFile, err)
	}
	for k, v := range pairs {
		out[k] = v
	}
	return out, nil
}

// StartOptions converts every [[process]] entry into a supervisor.StartOptions.
func (d *Document) StartOptions() []supervisor.StartOptions {
	out := make([]supervisor.StartOptions, 0, len(d.Process))
	for _, e := range d.Process {
		autoRestart := true
		if e.AutoRestart != nil {
			autoRestart = *e.AutoRestart
		}
		maxRestarts := defaultMaxRestarts
		if e.MaxRestarts != nil {
			maxRestarts = *e.MaxRestarts
		}
		restartDelay := defaultRestartDelayMS
		if e.RestartDelayMS != nil {
			restartDelay = *e.RestartDelayMS
		}
		out = append(out, supervisor.StartOptions{
			Name:             e.Name,
			Script:           e.Script,
			Interpreter:      e.Interpreter,
			Args:             e.Args,
			Env:              e.Env,
			Cwd:              e.Cwd,
			AutoRestart:      autoRestart,
			MaxRestarts:      maxRestarts,
			RestartDelayMS:   restartDelay,
			MaxMemoryRestart: e.MaxMemoryRestart,
			Watch:            e.Watch,
		})
	}
	return out
}
