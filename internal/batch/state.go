package batch

import "docbatch/internal/jobstore"

// State is the controller lifecycle.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// JobStatus maps the controller state onto the persisted job status.
func (s State) JobStatus() jobstore.Status {
	switch s {
	case StatePaused:
		return jobstore.StatusPaused
	case StateStopped:
		return jobstore.StatusStopped
	case StateCompleted:
		return jobstore.StatusCompleted
	case StateError:
		return jobstore.StatusError
	default:
		return jobstore.StatusRunning
	}
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateError
}
