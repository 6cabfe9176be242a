// Package launcher is node-local process control. A Launcher starts worker
// processes and can later check whether they are still alive or kill them.
// It differs from a scheduler backend in that it makes no placement
// decisions and runs on the compute node itself.
package launcher

import "io"

// State of a launched process.
type State int

const (
	// An unambiguous 0-value.
	UNKNOWN State = iota
	RUNNING
	COMPLETE
	FAILED
)

func (s State) IsDone() bool {
	return s == COMPLETE || s == FAILED
}

func (s State) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Status is a point-in-time view of one launched process.
// ExitCode is only meaningful when State == COMPLETE.
type Status struct {
	State    State
	ExitCode int
	Error    string
}

// WorkerSpec is everything a launcher needs to start one worker process.
type WorkerSpec struct {
	// Unique worker name, the launcher's tracking key.
	Name string
	Argv []string
	Env  map[string]string
	Dir  string
	// Output sinks, usually a job log file. Nil means discard.
	Stdout io.Writer
	Stderr io.Writer
}

// Launcher starts, monitors, and kills worker processes on this node.
type Launcher interface {
	// Launch starts the process described by spec.
	Launch(spec WorkerSpec) error

	// Status is a non-blocking check of one launched process.
	Status(name string) Status

	// Check reconciles the launcher's view of what is actually running
	// against the caller's active map. Workers no longer running are
	// returned in gone, tracked processes the caller no longer knows
	// about are killed.
	Check(active map[string]WorkerSpec) (running map[string]WorkerSpec, gone []string)

	// Shutdown kills the named processes. Already-dead names are a no-op.
	Shutdown(names []string)
}
