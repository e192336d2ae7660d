package supervisor

import (
	"github.com/hostpm/hostpm/internal/process"
	"github.com/hostpm/hostpm/internal/store"
)

// specFromOptions builds a process.Spec from caller-facing StartOptions,
// deriving the log/error-log/pidfile paths from the Config Store.
func (s *Supervisor) specFromOptions(opts StartOptions) process.Spec {
	return process.Spec{
		Name:             opts.Name,
		Script:           opts.Script,
		Interpreter:      opts.Interpreter,
		Args:             opts.Args,
		Env:              opts.Env,
		WorkDir:          opts.Cwd,
		AutoRestart:      opts.AutoRestart,
		MaxRestarts:      opts.MaxRestarts,
		RestartDelayMS:   opts.RestartDelayMS,
		MaxMemoryRestart: opts.MaxMemoryRestart,
		Watch:            opts.Watch,
		LogPath:          s.st.LogPath(opts.Name),
		ErrorLogPath:     s.st.ErrorLogPath(opts.Name),
		PIDFilePath:      s.st.PIDFilePath(opts.Name),
	}
}

// specFromRecord rebuilds a process.Spec from a persisted registry record,
// the inverse of recordFromSpec.
func (s *Supervisor) specFromRecord(name string, rec store.RegistryRecord) process.Spec {
	maxMem := ""
	if rec.Options.MaxMemoryRestart != nil {
		maxMem = *rec.Options.MaxMemoryRestart
	}
	return process.Spec{
		Name:             name,
		Script:           rec.Script,
		Interpreter:      rec.Options.Interpreter,
		Args:             rec.Options.Args,
		Env:              rec.Options.Env,
		WorkDir:          rec.Options.Cwd,
		AutoRestart:      rec.Options.AutoRestart,
		MaxRestarts:      rec.Options.MaxRestarts,
		RestartDelayMS:   rec.Options.RestartDelay,
		MaxMemoryRestart: maxMem,
		Watch:            rec.Options.Watch,
		LogPath:          s.st.LogPath(name),
		ErrorLogPath:     s.st.ErrorLogPath(name),
		PIDFilePath:      s.st.PIDFilePath(name),
	}
}

// recordFromSpec produces the persisted shape for a ManagedProcess's
// current spec and status. restart_count is deliberately not carried: it
// is a run-epoch counter, not registry state.
func (s *Supervisor) recordFromSpec(spec process.Spec, st process.Status) store.RegistryRecord {
	var pid *int
	if st.PID > 0 {
		p := st.PID
		pid = &p
	}
	var maxMem *string
	if spec.MaxMemoryRestart != "" {
		m := spec.MaxMemoryRestart
		maxMem = &m
	}
	return store.RegistryRecord{
		Script: spec.Script,
		PID:    pid,
		Status: string(st.State),
		Options: store.RegistryOptions{
			Cwd:              spec.WorkDir,
			Args:             spec.Args,
			Env:              spec.Env,
			Interpreter:      spec.Interpreter,
			MaxRestarts:      spec.MaxRestarts,
			RestartDelay:     spec.RestartDelayMS,
			AutoRestart:      spec.AutoRestart,
			Watch:            spec.Watch,
			MaxMemoryRestart: maxMem,
		},
	}
}
