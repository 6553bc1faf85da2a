package monitor

import "docbatch/internal/jobstore"

// DedupResults keeps the first result per item id and reports how many
// were dropped.
func DedupResults(results []jobstore.Result) ([]jobstore.Result, int) {
	seen := make(map[string]struct{}, len(results))
	out := make([]jobstore.Result, 0, len(results))
	for _, r := range results {
		if _, dup := seen[r.ItemID]; dup {
			continue
		}
		seen[r.ItemID] = struct{}{}
		out = append(out, r)
	}
	return out, len(results) - len(out)
}

// DedupErrors keeps the first error per item id, dropping every error for
// an item that also has a result.
func DedupErrors(errs []jobstore.ErrorRecord, results []jobstore.Result) ([]jobstore.ErrorRecord, int) {
	seen := make(map[string]struct{}, len(errs)+len(results))
	for _, r := range results {
		seen[r.ItemID] = struct{}{}
	}
	out := make([]jobstore.ErrorRecord, 0, len(errs))
	for _, e := range errs {
		if _, dup := seen[e.ItemID]; dup {
			continue
		}
		seen[e.ItemID] = struct{}{}
		out = append(out, e)
	}
	return out, len(errs) - len(out)
}

// distinctItems counts item ids across results and errors.
func distinctItems(cp jobstore.Checkpoint) int {
	succeeded, failed := cp.Distinct()
	return succeeded + failed
}
