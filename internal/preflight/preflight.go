package preflight

import (
	"context"

	"docbatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// HealthChecker is implemented by extraction backends that can be probed.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RunAll executes the directory checks plus a backend probe when backend
// supports one.
func RunAll(ctx context.Context, cfg *config.Config, backend any) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir),
	}
	if checker, ok := backend.(HealthChecker); ok {
		results = append(results, CheckBackend(ctx, checker))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
