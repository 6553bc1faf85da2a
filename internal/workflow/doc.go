// Package workflow owns the live batch controllers of the daemon and exposes
// the operator surface keyed by job id.
//
// The Manager accepts submissions, enumerates items through the source
// package and either runs them in-process with a batch.Controller or
// dispatches them to a remote.Queue for out-of-process workers. Controller
// callbacks persist progress, checkpoints and status changes to the job
// store and publish events to the progress hub. In-process jobs are
// finalized here through report.Build; dispatched jobs are finalized by the
// completion monitor.
//
// Pause, Resume, Stop, State, Checkpoint and Restore address jobs by id.
// Jobs that were running when the daemon stopped are moved to paused on the
// next Start so an operator can restore them from their last checkpoint.
package workflow
