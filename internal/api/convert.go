package api

import (
	"maps"
	"time"

	"docbatch/internal/jobstore"
	"docbatch/internal/preflight"
	"docbatch/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobstore.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:          job.ID,
		Name:        job.Name,
		Status:      string(job.Status),
		Mode:        string(job.Mode),
		SourceRoot:  job.SourceRoot,
		Recursive:   job.Recursive,
		Concurrency: job.Concurrency,
		MaxRetries:  job.MaxRetries,
		Progress: Progress{
			Total:       job.Total,
			Processed:   job.Processed,
			Succeeded:   job.Succeeded,
			Failed:      job.Failed,
			Percent:     job.Percent(),
			CurrentItem: job.CurrentItem,
		},
		DispatchedCount:   job.DispatchedCount,
		AcknowledgedCount: job.AcknowledgedCount,
		ErrorMessage:      job.ErrorMessage,
		ExportDir:         job.ExportDir,
		CreatedAt:         formatTime(job.CreatedAt),
		UpdatedAt:         formatTime(job.UpdatedAt),
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(jobs []*jobstore.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromJobState converts a workflow job state.
func FromJobState(state workflow.JobState) JobState {
	return JobState{Job: FromJob(state.Job), State: state.State, Live: state.Live}
}

// FromCheckpoint summarizes a checkpoint for jobID.
func FromCheckpoint(jobID string, cp jobstore.Checkpoint) CheckpointSummary {
	summary := CheckpointSummary{
		JobID:             jobID,
		Total:             cp.Total,
		ProcessedCount:    cp.ProcessedCount,
		Results:           len(cp.Results),
		Errors:            len(cp.Errors),
		ConsecutiveErrors: cp.ConsecutiveErrors,
		SavedAt:           formatTime(cp.SavedAt),
	}
	if len(cp.RetryState) > 0 {
		summary.RetryState = maps.Clone(cp.RetryState)
	}
	return summary
}

// FromCheckResults converts preflight results.
func FromCheckResults(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// ToSubmitRequest converts a validated request into the workflow form.
func ToSubmitRequest(req SubmitRequest) workflow.SubmitRequest {
	return workflow.SubmitRequest{
		Name:        req.Name,
		SourceRoot:  req.SourceRoot,
		Recursive:   req.Recursive,
		Concurrency: req.Concurrency,
		MaxRetries:  req.MaxRetries,
		Mode:        jobstore.Mode(req.Mode),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
