// Package daemon coordinates the long-running docbatch process.
//
// It wires configuration, the job store, the workflow manager, the local
// dispatch queue and the completion monitor into a single lifecycle with
// flock-based locking to prevent multiple instances, and serves the HTTP
// control surface used by the CLI: job submission, pause/resume/stop,
// checkpoint inspection, restore, on-demand aggregation and a websocket
// progress stream.
//
// Keep orchestration here; batch execution lives in internal/batch and job
// bookkeeping in internal/workflow.
package daemon
