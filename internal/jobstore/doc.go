// Package jobstore persists batch jobs, their progress counters, and their
// checkpoint blobs.
//
// The SQLite Store is the default backend; pgstore provides the same
// Repository contract on Postgres for deployments where out-of-process
// workers and the completion monitor share a database. Status changes follow
// the job state machine in CanTransition, and TransitionStatus/CompleteJob are
// compare-and-set so concurrent finalizers act at most once.
//
// Checkpoints are replaced wholesale by in-process controllers
// (SaveCheckpoint) or appended to one outcome at a time by out-of-process
// workers (AppendOutcome). Dispatched and acknowledged counters are updated
// independently of the checkpoint, which is why readiness must be re-verified
// against stored outcomes before a job is finalized.
package jobstore
