//go:build !windows

package process

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hostpm/hostpm/internal/detector"
	"github.com/hostpm/hostpm/internal/env"
	"github.com/hostpm/hostpm/internal/metrics"
)

const (
	stopGraceful = 5 * time.Second
	stopKillWait = 500 * time.Millisecond
)

// ManagedProcess owns one OS child across its full lifecycle: spawning it,
// watching it, signaling it, and reporting on it. It knows nothing about the
// registry or any other ManagedProcess.
type ManagedProcess struct {
	mu sync.Mutex

	spec      Spec
	log       *slog.Logger
	globalEnv *env.Env

	state    State
	pid      int
	procTime int64 // PID-reuse guard: OS start time of pid, Unix seconds.

	restartCount int
	createdAt    time.Time
	startedAt    time.Time
	stoppedAt    time.Time

	warnedBadMemLimit bool
}

// New constructs a ManagedProcess in the stopped state. globalEnv supplies
// the base environment (supervisor environment plus any global overrides)
// that spec.Env is merged over; a nil globalEnv falls back to the OS
// environment with no overrides.
func New(spec Spec, globalEnv *env.Env, log *slog.Logger) *ManagedProcess {
	if log == nil {
		log = slog.Default()
	}
	if globalEnv == nil {
		globalEnv = env.New()
	}
	return &ManagedProcess{
		spec:      spec,
		log:       log.With("process", spec.Name),
		globalEnv: globalEnv,
		state:     StateStopped,
		createdAt: time.Now(),
	}
}

// Recover rehydrates a ManagedProcess that was previously running, from a
// PID remembered in the registry, without having spawned it ourselves. Its
// liveness from here on is judged purely from the PID and its recorded OS
// start time, never from a *os.Process handle this instance never owned.
func Recover(spec Spec, pid int, globalEnv *env.Env, log *slog.Logger) *ManagedProcess {
	p := New(spec, globalEnv, log)
	if pid <= 0 {
		return p
	}
	start := detector.StartUnix(pid)
	alive := (detector.PIDDetector{PID: pid}).Alive
	ok, _ := alive()
	if !ok || isZombieLinux(pid) {
		return p
	}
	p.pid = pid
	p.procTime = start
	p.state = StateOnline
	p.startedAt = time.Now()
	return p
}

// Spec returns a copy of the configuration this process was built from.
func (p *ManagedProcess) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// Start spawns the child. It is a no-op returning false when already online.
func (p *ManagedProcess) Start() bool {
	p.mu.Lock()
	if p.state != StateStopped && p.state != StateErrored {
		p.mu.Unlock()
		return false
	}
	p.state = StateLaunching
	spec := p.spec
	p.mu.Unlock()
	launchBegin := time.Now()

	cmd, err := spec.BuildCommand()
	if err != nil {
		p.failStart(fmt.Errorf("build command: %w", err))
		return false
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	p.mu.Lock()
	ge := p.globalEnv
	p.mu.Unlock()
	cmd.Env = ge.Merge(envSliceFromMap(spec.Env))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outF, errF, err := openAppend(spec.LogPath, spec.ErrorLogPath)
	if err != nil {
		p.failStart(fmt.Errorf("open logs: %w", err))
		return false
	}
	cmd.Stdout = outF
	cmd.Stderr = errF

	if err := cmd.Start(); err != nil {
		_ = outF.Close()
		_ = errF.Close()
		p.failStart(fmt.Errorf("spawn: %w", err))
		return false
	}

	pid := cmd.Process.Pid
	p.mu.Lock()
	p.pid = pid
	p.procTime = detector.StartUnix(pid)
	p.state = StateOnline
	p.startedAt = time.Now()
	p.mu.Unlock()

	if err := writePIDFile(spec.PIDFilePath, pid); err != nil {
		p.log.Warn("write pid file failed", "error", err)
	}
	go p.reap(cmd.Process, outF, errF)

	metrics.IncStart(spec.Name)
	metrics.ObserveStartDuration(spec.Name, time.Since(launchBegin).Seconds())
	metrics.RecordStateTransition(spec.Name, string(StateLaunching), string(StateOnline))
	metrics.SetCurrentState(spec.Name, string(StateOnline), true)
	p.log.Info("process started", "pid", pid)
	return true
}

// failStart transitions to errored on a spawn failure and appends a line to
// the process's own error log, matching the error-handling contract: a
// spawn failure never consumes a restart_count slot.
func (p *ManagedProcess) failStart(err error) {
	p.mu.Lock()
	p.state = StateErrored
	name := p.spec.Name
	errPath := p.spec.ErrorLogPath
	p.mu.Unlock()

	p.log.Error("process failed to start", "error", err)
	appendDiagnostic(errPath, fmt.Sprintf("start failed: %v", err))
	metrics.RecordStateTransition(name, string(StateLaunching), string(StateErrored))
}

// reap waits for the child to exit and releases the file handles this
// instance opened. It never mutates state: state transitions are owned by
// Stop and Monitor, which judge liveness from the PID, not from this wait.
func (p *ManagedProcess) reap(osProc *os.Process, outF, errF *os.File) {
	st, _ := osProc.Wait()
	_ = outF.Close()
	_ = errF.Close()
	_ = st
}

// DetectAlive reports whether the tracked PID still refers to the process
// this ManagedProcess spawned or resurrected, guarding against PID reuse
// and ignoring zombies.
func (p *ManagedProcess) DetectAlive() bool {
	p.mu.Lock()
	pid := p.pid
	recordedStart := p.procTime
	p.mu.Unlock()
	if pid <= 0 {
		return false
	}
	if isZombieLinux(pid) {
		return false
	}
	ok, _ := (detector.PIDDetector{PID: pid}).Alive()
	if !ok {
		return false
	}
	if recordedStart > 0 {
		cur := detector.StartUnix(pid)
		if cur > 0 && cur != recordedStart {
			return false // PID recycled by the OS; not our process.
		}
	}
	return true
}

// Stop requests termination of the child, escalating to SIGKILL either
// immediately (force) or after a grace period.
func (p *ManagedProcess) Stop(force bool) bool {
	p.mu.Lock()
	if p.state != StateOnline {
		p.mu.Unlock()
		return false
	}
	pid := p.pid
	p.state = StateStopping
	name := p.spec.Name
	p.mu.Unlock()
	metrics.RecordStateTransition(name, string(StateOnline), string(StateStopping))

	if pid > 0 {
		if force {
			_ = killGroup(pid, syscall.SIGKILL)
			waitDead(pid, stopKillWait)
		} else {
			_ = killGroup(pid, syscall.SIGTERM)
			if !waitDead(pid, stopGraceful) {
				_ = killGroup(pid, syscall.SIGKILL)
				waitDead(pid, stopKillWait)
			}
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.stoppedAt = time.Now()
	p.pid = 0
	p.procTime = 0
	pidFile := p.spec.PIDFilePath
	p.mu.Unlock()

	_ = os.Remove(pidFile)
	metrics.IncStop(name)
	metrics.RecordStateTransition(name, string(StateStopping), string(StateStopped))
	metrics.SetCurrentState(name, string(StateOnline), false)
	p.log.Info("process stopped", "pid", pid, "force", force)
	return true
}

// Restart is the user-initiated restart: it resets restart_count, per the
// decision that an explicit restart starts a fresh budget.
func (p *ManagedProcess) Restart() bool {
	p.mu.Lock()
	p.restartCount = 0
	name := p.spec.Name
	p.mu.Unlock()
	metrics.IncRestart(name)
	return p.doRestart()
}

// doRestart implements the stop→cleanup→delay→start sequence shared by
// user-initiated restarts, crash-triggered restarts, and memory-triggered
// restarts. Callers decide separately whether to touch restart_count.
func (p *ManagedProcess) doRestart() bool {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	if st == StateOnline {
		if !p.Stop(false) {
			p.Stop(true)
		}
	}
	p.cleanupResources()

	p.mu.Lock()
	delayMS := p.spec.RestartDelayMS
	p.mu.Unlock()
	if delayMS < 1000 {
		delayMS = 1000
	}
	time.Sleep(time.Duration(delayMS) * time.Millisecond)

	return p.Start()
}

// cleanupResources removes a stale PID file and force-kills any lingering
// process still holding the remembered PID before a respawn.
func (p *ManagedProcess) cleanupResources() {
	p.mu.Lock()
	pidFile := p.spec.PIDFilePath
	pid := p.pid
	p.pid = 0
	p.procTime = 0
	p.mu.Unlock()

	_ = os.Remove(pidFile)
	if pid > 0 {
		if ok, _ := (detector.PIDDetector{PID: pid}).Alive(); ok {
			_ = killGroup(pid, syscall.SIGKILL)
			waitDead(pid, stopKillWait)
		}
	}
}

// Monitor is invoked once per tick by the Supervisor's monitor loop. It
// drives crash-restart and memory-triggered restart. Panics inside are
// recovered so one misbehaving process never aborts the loop.
func (p *ManagedProcess) Monitor() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("monitor panic recovered", "panic", r)
		}
	}()

	p.mu.Lock()
	st := p.state
	name := p.spec.Name
	autoRestart := p.spec.AutoRestart
	maxRestarts := p.spec.MaxRestarts
	maxMem := p.spec.MaxMemoryRestart
	pid := p.pid
	p.mu.Unlock()

	if st != StateOnline {
		return
	}

	if !p.DetectAlive() {
		p.mu.Lock()
		p.state = StateErrored
		p.pid = 0
		p.procTime = 0
		pidFile := p.spec.PIDFilePath
		p.mu.Unlock()
		_ = os.Remove(pidFile)
		metrics.RecordStateTransition(name, string(StateOnline), string(StateErrored))
		metrics.SetCurrentState(name, string(StateOnline), false)
		p.log.Warn("process died unexpectedly")

		if autoRestart {
			p.mu.Lock()
			if p.restartCount < maxRestarts {
				p.restartCount++
				rc := p.restartCount
				p.mu.Unlock()
				metrics.IncRestart(name)
				p.log.Info("auto-restarting", "attempt", rc, "max", maxRestarts)
				p.doRestart()
			} else {
				p.mu.Unlock()
				p.log.Warn("auto-restart budget exhausted", "max", maxRestarts)
			}
		}
		return
	}

	if maxMem == "" || pid <= 0 {
		return
	}
	limitMB, err := ParseMemoryLimit(maxMem)
	if err != nil {
		p.mu.Lock()
		already := p.warnedBadMemLimit
		p.warnedBadMemLimit = true
		p.mu.Unlock()
		if !already {
			p.log.Warn("invalid max_memory_restart; skipping memory check", "value", maxMem, "error", err)
		}
		return
	}
	memMB, _ := sampleResources(pid)
	if memMB != nil && *memMB > float64(limitMB) {
		p.log.Info("memory-triggered restart", "rss_mb", *memMB, "limit_mb", limitMB)
		metrics.IncRestart(name)
		p.doRestart() // deliberately does not touch restart_count
	}
}

// Snapshot returns a read-only view of current state plus live resource
// samples when the process is alive.
func (p *ManagedProcess) Snapshot() Status {
	p.mu.Lock()
	s := Status{
		Name:         p.spec.Name,
		Script:       p.spec.Script,
		State:        p.state,
		PID:          p.pid,
		RestartCount: p.restartCount,
		CreatedAt:    p.createdAt,
		StartedAt:    p.startedAt,
		StoppedAt:    p.stoppedAt,
	}
	pid := p.pid
	p.mu.Unlock()

	if pid > 0 {
		s.MemoryMB, s.CPUPercent = sampleResources(pid)
	}
	return s
}

// --- free functions ---

func envSliceFromMap(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func openAppend(outPath, errPath string) (*os.File, *os.File, error) {
	if outPath == "" || errPath == "" {
		return nil, nil, fmt.Errorf("log paths must be set")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return nil, nil, err
	}
	outF, err := os.OpenFile(outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, err
	}
	errF, err := os.OpenFile(errPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		_ = outF.Close()
		return nil, nil, err
	}
	return outF, errF, nil
}

func appendDiagnostic(path, line string) {
	if path == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
}

func writePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

func killGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err != nil && err == syscall.ESRCH {
		return nil
	}
	return err
}

func waitDead(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok, _ := (detector.PIDDetector{PID: pid}).Alive(); !ok {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	ok, _ := (detector.PIDDetector{PID: pid}).Alive()
	return !ok
}

// isZombieLinux reports whether /proc/<pid>/status marks pid as a zombie.
// On non-Linux this always returns false.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
