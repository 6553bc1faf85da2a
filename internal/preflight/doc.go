// Package preflight provides readiness checks for the filesystem paths and
// extraction backend that docbatch depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls CheckSource before accepting a submission,
//     so a job never starts against an unreadable root.
//   - The daemon status endpoint and "docbatch status" use RunAll to
//     display directory and backend health.
package preflight
