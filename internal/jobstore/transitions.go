package jobstore

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusRunning, StatusProcessing, StatusError, StatusStopped},
	StatusRunning:    {StatusPaused, StatusStopped, StatusCompleted, StatusError},
	StatusPaused:     {StatusRunning, StatusStopped, StatusError},
	StatusProcessing: {StatusCompleted, StatusError, StatusStopped},
	// Operator re-triggers: restore resumes from checkpoint, aggregate retries
	// finalization or re-dispatches outstanding items.
	StatusError:   {StatusRunning, StatusProcessing},
	StatusStopped: {StatusRunning, StatusProcessing},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
