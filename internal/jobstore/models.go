package jobstore

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusStopped    Status = "stopped"
)

// Mode records where a job's items execute.
type Mode string

const (
	// ModeInProcess jobs are driven by a batch controller inside the daemon.
	ModeInProcess Mode = "inprocess"
	// ModeDispatched jobs are executed by out-of-process workers and
	// finalized by the completion monitor.
	ModeDispatched Mode = "dispatched"
)

// InterruptedReason is the message recorded on jobs that were running when the daemon stopped.
const InterruptedReason = "Interrupted by daemon shutdown; restore to continue from checkpoint"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusPaused,
	StatusProcessing,
	StatusCompleted,
	StatusError,
	StatusStopped,
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further automatic transitions occur from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusStopped:
		return true
	default:
		return false
	}
}

// Job is the durable record of one batch submission.
type Job struct {
	ID                 string
	Name               string
	Status             Status
	Mode               Mode
	SourceRoot         string
	Recursive          bool
	Concurrency        int
	MaxRetries         int
	Total              int
	Processed          int
	Succeeded          int
	Failed             int
	DispatchedCount    int
	AcknowledgedCount  int
	// DispatchGeneration increments on every re-dispatch; acknowledgements
	// from an older generation are ignored.
	DispatchGeneration int
	CurrentItem        string
	ErrorMessage       string
	ExportDir          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// Percent returns completion as 0-100.
func (j *Job) Percent() float64 {
	if j == nil || j.Total <= 0 {
		return 0
	}
	return float64(j.Processed) / float64(j.Total) * 100
}

// Extra carries optional fields written alongside a status change.
type Extra struct {
	// Message replaces error_message; empty clears it.
	Message string
	// ExportDir is recorded when non-empty.
	ExportDir string
}

// Progress is the counter snapshot persisted after each settled item.
type Progress struct {
	Processed   int
	Succeeded   int
	Failed      int
	CurrentItem string
}
