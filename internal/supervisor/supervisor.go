// Package supervisor owns the registry of ManagedProcesses, mediates every
// registry write, drives the periodic monitor loop, and exposes the
// control API the CLI dispatches into.
package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hostpm/hostpm/internal/detector"
	"github.com/hostpm/hostpm/internal/env"
	"github.com/hostpm/hostpm/internal/metrics"
	"github.com/hostpm/hostpm/internal/process"
	"github.com/hostpm/hostpm/internal/store"
	"github.com/hostpm/hostpm/internal/watcher"
)

const monitorTick = 1 * time.Second

// StartOptions is the caller-facing shape for a new (or restarted) process.
// It mirrors the registry's "options" object plus the identifying Name and
// Script.
type StartOptions struct {
	Name             string
	Script           string
	Interpreter      string
	Args             []string
	Env              map[string]string
	Cwd              string
	AutoRestart      bool
	MaxRestarts      int
	RestartDelayMS   int
	MaxMemoryRestart string
	Watch            bool
}

// Supervisor owns zero module-level state of its own: everything it knows
// lives in the state directory it was constructed with.
type Supervisor struct {
	mu       sync.Mutex
	procs    map[string]*process.ManagedProcess
	watchers map[string]*watcher.Watcher

	st  *store.Store
	env *env.Env
	log *slog.Logger

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// New opens the state directory's Config Store and rehydrates the registry
// into in-memory ManagedProcesses, recovering liveness from recorded PIDs.
func New(stateDir string, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := store.Open(stateDir, log)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		procs:    make(map[string]*process.ManagedProcess),
		watchers: make(map[string]*watcher.Watcher),
		st:       st,
		env:      env.New(),
		log:      log,
	}
	s.rehydrate()
	return s, nil
}

// SetGlobalEnv overlays KEY=VALUE pairs onto the base environment every
// managed process is spawned with.
func (s *Supervisor) SetGlobalEnv(kvs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.env
	for k, v := range kvs {
		e = e.WithSet(k, v)
	}
	s.env = e
}

// StateDir returns the underlying Config Store's state directory.
func (s *Supervisor) StateDir() string { return s.st.Dir() }

// Defaults returns the persisted global default restart policy, for callers
// (the CLI) filling in options the user left unset.
func (s *Supervisor) Defaults() (maxRestarts, restartDelayMS int, maxMemoryRestart string) {
	return s.st.DefaultMaxRestarts(), s.st.DefaultRestartDelayMS(), s.st.DefaultMaxMemoryRestart()
}

func (s *Supervisor) rehydrate() {
	for name, rec := range s.st.LoadRegistry() {
		spec := s.specFromRecord(name, rec)
		pid := 0
		if rec.PID != nil {
			pid = *rec.PID
		}
		if pid == 0 {
			// A pidfile can out-survive a registry write that raced a
			// supervisor crash; trust it when it points at a live process.
			pf := detector.PIDFileDetector{PIDFile: spec.PIDFilePath}
			if ok, err := pf.Alive(); err == nil && ok {
				pid = detector.ReadPID(spec.PIDFilePath)
			}
		}
		s.mu.Lock()
		baseEnv := s.env
		s.mu.Unlock()
		mp := process.Recover(spec, pid, baseEnv, s.log)
		s.mu.Lock()
		s.procs[name] = mp
		s.mu.Unlock()
		if rec.Options.Watch && mp.Snapshot().State == process.StateOnline {
			s.attachWatcher(name, spec)
		}
	}
}

// --- control API ---

// Start registers and starts a new process, or delegates to Restart when
// the name is already registered. The exists-check and the registration
// happen under one lock acquisition so two concurrent Starts on the same
// name cannot both spawn a child.
func (s *Supervisor) Start(opts StartOptions) bool {
	spec := s.specFromOptions(opts)
	s.mu.Lock()
	if _, ok := s.procs[opts.Name]; ok {
		s.mu.Unlock()
		return s.Restart(opts.Name)
	}
	mp := process.New(spec, s.env, s.log)
	s.procs[opts.Name] = mp
	s.mu.Unlock()

	if !mp.Start() {
		// Registration is conditional on a successful spawn; the failure
		// itself is already recorded in the process's error log.
		s.mu.Lock()
		delete(s.procs, opts.Name)
		s.mu.Unlock()
		return false
	}
	if opts.Watch {
		s.attachWatcher(opts.Name, spec)
	}
	s.persist()
	return true
}

// Stop stops a named process, force-killing when force is true. Stopping an
// already-stopped process is a no-op success.
func (s *Supervisor) Stop(name string, force bool) bool {
	mp := s.get(name)
	if mp == nil {
		return false
	}
	if mp.Snapshot().State != process.StateOnline {
		return true
	}
	ok := mp.Stop(force)
	if ok {
		s.detachWatcher(name)
		s.persist()
	}
	return ok
}

// Restart restarts a named process, resetting its restart budget. A
// watched process gets its watcher back here, since Stop detached it.
func (s *Supervisor) Restart(name string) bool {
	mp := s.get(name)
	if mp == nil {
		return false
	}
	ok := mp.Restart()
	if ok {
		spec := mp.Spec()
		if spec.Watch {
			s.attachWatcher(name, spec)
		}
	}
	s.persist()
	return ok
}

// Delete stops (gracefully, if online) and removes name from the registry.
func (s *Supervisor) Delete(name string) bool {
	mp := s.get(name)
	if mp == nil {
		return false
	}
	if mp.Snapshot().State == process.StateOnline {
		mp.Stop(false)
	}
	s.detachWatcher(name)
	s.mu.Lock()
	delete(s.procs, name)
	s.mu.Unlock()
	s.persist()
	return true
}

// StopAll stops every registered process and returns the count stopped.
func (s *Supervisor) StopAll(force bool) int {
	n := 0
	for _, name := range s.names() {
		if s.Stop(name, force) {
			n++
		}
	}
	return n
}

// RestartAll restarts every registered process and returns the count restarted.
func (s *Supervisor) RestartAll() int {
	n := 0
	for _, name := range s.names() {
		if s.Restart(name) {
			n++
		}
	}
	return n
}

// DeleteAll deletes every registered process and returns the count deleted.
func (s *Supervisor) DeleteAll() int {
	n := 0
	for _, name := range s.names() {
		if s.Delete(name) {
			n++
		}
	}
	return n
}

// List returns a snapshot of every registered process, including live
// resource samples.
func (s *Supervisor) List() []process.Status {
	out := make([]process.Status, 0)
	for _, name := range s.names() {
		mp := s.get(name)
		if mp == nil {
			continue
		}
		out = append(out, mp.Snapshot())
	}
	return out
}

// Resurrect starts every registry entry not currently online, using its
// stored options.
func (s *Supervisor) Resurrect() int {
	n := 0
	for _, name := range s.names() {
		mp := s.get(name)
		if mp == nil || mp.Snapshot().State == process.StateOnline {
			continue
		}
		if mp.Start() {
			n++
			spec := mp.Spec()
			if spec.Watch {
				s.attachWatcher(name, spec)
			}
		}
	}
	s.persist()
	return n
}

func (s *Supervisor) get(name string) *process.ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[name]
}

func (s *Supervisor) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.procs))
	for n := range s.procs {
		out = append(out, n)
	}
	return out
}

// --- monitor loop ---

// StartMonitor launches the background monitor loop, which calls Monitor
// on every registered process roughly once per second for the lifetime of
// the Supervisor.
func (s *Supervisor) StartMonitor() {
	s.mu.Lock()
	if s.monitorStop != nil {
		s.mu.Unlock()
		return
	}
	s.monitorStop = make(chan struct{})
	s.monitorDone = make(chan struct{})
	stop := s.monitorStop
	done := s.monitorDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(monitorTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// StopMonitor stops the monitor loop and waits for it to exit.
func (s *Supervisor) StopMonitor() {
	s.mu.Lock()
	stop := s.monitorStop
	done := s.monitorDone
	s.monitorStop = nil
	s.monitorDone = nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	if done != nil {
		<-done
	}
}

func (s *Supervisor) tick() {
	names := s.names()
	dirty := false
	online := 0
	for _, name := range names {
		mp := s.get(name)
		if mp == nil {
			continue
		}
		before := mp.Snapshot()
		s.monitorOne(name, mp)
		after := mp.Snapshot()
		if after.State == process.StateOnline {
			online++
		}
		if before.State != after.State || before.PID != after.PID {
			dirty = true
		}
	}
	metrics.SetRunningInstances("", online)
	if dirty {
		s.persist()
	}
}

func (s *Supervisor) monitorOne(name string, mp *process.ManagedProcess) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("monitor tick panic recovered", "process", name, "panic", r)
		}
	}()
	mp.Monitor()
}

func (s *Supervisor) persist() {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for n := range s.procs {
		names = append(names, n)
	}
	s.mu.Unlock()

	reg := make(map[string]store.RegistryRecord, len(names))
	for _, name := range names {
		mp := s.get(name)
		if mp == nil {
			continue
		}
		reg[name] = s.recordFromSpec(mp.Spec(), mp.Snapshot())
	}
	if err := s.st.SaveRegistry(reg); err != nil {
		s.log.Error("failed to persist registry", "error", err)
	}
}
