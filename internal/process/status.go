package process

import "time"

// State is one of the five lifecycle states a ManagedProcess moves through.
type State string

const (
	StateStopped   State = "stopped"
	StateLaunching State = "launching"
	StateOnline    State = "online"
	StateStopping  State = "stopping"
	StateErrored   State = "errored"
)

// Status is a read-only snapshot of a ManagedProcess, safe to copy and hand
// to callers outside the package lock.
type Status struct {
	Name         string
	Script       string
	State        State
	PID          int
	RestartCount int
	CreatedAt    time.Time
	StartedAt    time.Time
	StoppedAt    time.Time
	MemoryMB     *float64
	CPUPercent   *float64
}
