// Package api defines the wire-format types shared by the daemon's HTTP
// surface and the docbatch CLI, plus a typed client for that surface.
//
// # Key Types
//
// Job: transport representation of a job record with progress counters and
// the dispatched/acknowledged bookkeeping used by out-of-process runs.
//
// JobState: a job together with its live controller state.
//
// CheckpointSummary: counts from a checkpoint without the per-item payload.
//
// SubmitRequest: validated with go-playground/validator struct tags before
// the daemon touches the filesystem.
//
// # Converters
//
// FromJob, FromJobs, FromJobState, FromCheckpoint and FromCheckResults map
// internal models to DTOs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are returned as ErrorResponse with the taxonomy kind so clients can
// distinguish validation failures from missing jobs without parsing text.
package api
