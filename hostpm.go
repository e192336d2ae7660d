// Package hostpm is a thin facade over internal/supervisor for embedding
// this process supervisor as a library rather than driving it through the
// CLI in cmd/hostpm.
package hostpm

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/hostpm/hostpm/internal/metrics"
	"github.com/hostpm/hostpm/internal/process"
	"github.com/hostpm/hostpm/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-exported for external consumers; aliases so conversions are zero-cost.
type Status = process.Status
type State = process.State
type StartOptions = supervisor.StartOptions

const (
	StateStopped   = process.StateStopped
	StateLaunching = process.StateLaunching
	StateOnline    = process.StateOnline
	StateStopping  = process.StateStopping
	StateErrored   = process.StateErrored
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

// New opens (creating if absent) the state directory at stateDir and
// rehydrates any previously registered processes.
func New(stateDir string, log *slog.Logger) (*Supervisor, error) {
	inner, err := supervisor.New(stateDir, log)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) SetGlobalEnv(kvs map[string]string) { s.inner.SetGlobalEnv(kvs) }
func (s *Supervisor) StateDir() string                   { return s.inner.StateDir() }

func (s *Supervisor) Defaults() (maxRestarts, restartDelayMS int, maxMemoryRestart string) {
	return s.inner.Defaults()
}

func (s *Supervisor) Start(opts StartOptions) bool       { return s.inner.Start(opts) }
func (s *Supervisor) Stop(name string, force bool) bool  { return s.inner.Stop(name, force) }
func (s *Supervisor) Restart(name string) bool           { return s.inner.Restart(name) }
func (s *Supervisor) Delete(name string) bool            { return s.inner.Delete(name) }
func (s *Supervisor) StopAll(force bool) int             { return s.inner.StopAll(force) }
func (s *Supervisor) RestartAll() int                    { return s.inner.RestartAll() }
func (s *Supervisor) DeleteAll() int                     { return s.inner.DeleteAll() }
func (s *Supervisor) List() []Status                     { return s.inner.List() }
func (s *Supervisor) Resurrect() int                     { return s.inner.Resurrect() }

func (s *Supervisor) Logs(name string, n int, follow bool, out io.Writer, stop <-chan struct{}) error {
	return s.inner.Logs(name, n, follow, out, stop)
}
func (s *Supervisor) FlushLogs(name string) error { return s.inner.FlushLogs(name) }

func (s *Supervisor) StartMonitor() { s.inner.StartMonitor() }
func (s *Supervisor) StopMonitor()  { s.inner.StopMonitor() }

// Metrics helpers. This package never starts an HTTP listener itself; a
// host process that wants /metrics mounts MetricsHandler() on its own
// server.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
