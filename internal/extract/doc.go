// Package extract defines the extraction contract batch jobs run against and
// ships two adapters: a local text/PDF extractor and an HTTP backend client.
//
// Failures are classified as transient or permanent. Adapters mark errors
// explicitly with Transient or Permanent; IsTransient falls back to network
// and timeout heuristics for unmarked errors so third-party extractors still
// get retried sensibly.
package extract
