package api

import "time"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job record in a transport-friendly format.
type Job struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Status            string   `json:"status"`
	Mode              string   `json:"mode"`
	SourceRoot        string   `json:"sourceRoot"`
	Recursive         bool     `json:"recursive"`
	Concurrency       int      `json:"concurrency"`
	MaxRetries        int      `json:"maxRetries"`
	Progress          Progress `json:"progress"`
	DispatchedCount   int      `json:"dispatchedCount,omitempty"`
	AcknowledgedCount int      `json:"acknowledgedCount,omitempty"`
	ErrorMessage      string   `json:"errorMessage,omitempty"`
	ExportDir         string   `json:"exportDir,omitempty"`
	CreatedAt         string   `json:"createdAt,omitempty"`
	UpdatedAt         string   `json:"updatedAt,omitempty"`
	CompletedAt       string   `json:"completedAt,omitempty"`
}

// Progress captures item counters for a job.
type Progress struct {
	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Percent     float64 `json:"percent"`
	CurrentItem string  `json:"currentItem,omitempty"`
}

// JobState pairs a job with its live controller state.
type JobState struct {
	Job   Job    `json:"job"`
	State string `json:"state"`
	Live  bool   `json:"live"`
}

// CheckpointSummary reports checkpoint counts without item payloads.
type CheckpointSummary struct {
	JobID             string         `json:"jobId"`
	Total             int            `json:"total"`
	ProcessedCount    int            `json:"processedCount"`
	Results           int            `json:"results"`
	Errors            int            `json:"errors"`
	ConsecutiveErrors int            `json:"consecutiveErrors"`
	RetryState        map[string]int `json:"retryState,omitempty"`
	SavedAt           string         `json:"savedAt,omitempty"`
}

// SubmitRequest starts a new job.
type SubmitRequest struct {
	Name        string `json:"name,omitempty" validate:"omitempty,max=200"`
	SourceRoot  string `json:"sourceRoot" validate:"required"`
	Recursive   *bool  `json:"recursive,omitempty"`
	Concurrency int    `json:"concurrency,omitempty" validate:"gte=0,lte=256"`
	MaxRetries  *int   `json:"maxRetries,omitempty" validate:"omitempty,gte=0,lte=100"`
	Mode        string `json:"mode,omitempty" validate:"omitempty,oneof=inprocess dispatched"`
}

// CheckResult mirrors one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	StoreDriver    string         `json:"storeDriver"`
	DatabasePath   string         `json:"databasePath,omitempty"`
	LockFilePath   string         `json:"lockFilePath"`
	Backend        string         `json:"backend"`
	MonitorEnabled bool           `json:"monitorEnabled"`
	LiveJobs       []string       `json:"liveJobs"`
	JobCounts      map[string]int `json:"jobCounts"`
	Checks         []CheckResult  `json:"checks"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// AggregateRequest drives the completion monitor on demand.
type AggregateRequest struct {
	Retrigger bool `json:"retrigger,omitempty"`
}

// AggregateResponse reports one completion poll.
type AggregateResponse struct {
	Ready        int `json:"ready"`
	Finalized    int `json:"finalized"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	Duplicates   int `json:"duplicates"`
	Redispatched int `json:"redispatched,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// NotificationResponse reports the outcome of a test notification.
type NotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// LogQuery selects a page of the daemon log.
type LogQuery struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	JobID  string
}

// LogPage is one page of daemon log lines.
type LogPage struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
