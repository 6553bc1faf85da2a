// Package report turns a finalized job's results into export artifacts.
//
// ComputeStats summarizes results and failures. Build writes report.json,
// results.xlsx, summary.txt, one text artifact per item, and bundle.zip
// under <export_dir>/<job-id>/. Files found in the job's derived-artifact
// directory are copied under derived/ and included in the bundle. Build
// never waits for derived artifacts that have not arrived yet.
package report
