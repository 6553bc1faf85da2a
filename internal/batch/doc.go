// Package batch runs a declared item set against an extractor with bounded
// parallelism while staying pausable, cancellable, and resumable.
//
// A Controller owns one run. Workers settle one item end to end, retries
// included, so a failing item never blocks its neighbours. All shared
// accounting (results, errors, processed count, per-item retry state, and the
// consecutive-failure counter) lives under a single mutex; pause and cancel are
// two channels held by a gate so a paused worker blocks without that lock.
//
// Suspension points are the top of every attempt and every backoff sleep.
// Cancellation takes effect there, never mid-extraction, so items already
// running finish and are recorded. Items reached after a Stop are recorded as
// cancelled and are not counted as processed; a restored run picks them up.
//
// Checkpoints are emitted on a bounded cadence (elapsed time or settled item
// count, whichever comes first), on every pause, and once when Run returns.
package batch
