// Package services defines shared utilities consumed by the batch controller,
// the completion monitor, and the daemon.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, item IDs, worker names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers for the job failure taxonomy plus the Wrap
//     helper and Kind classifier that keep job error strings uniform.
//
// Use these helpers when wiring new components so operational behaviour (error
// handling, observability) stays uniform across the system.
package services
