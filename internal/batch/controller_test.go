package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docbatch/internal/batch"
	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/services"
	"docbatch/internal/source"
)

type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callCounter) add(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[id]++
	return c.calls[id]
}

func (c *callCounter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func makeItems(ids ...string) []batch.WorkItem {
	items := make([]batch.WorkItem, len(ids))
	for i, id := range ids {
		items[i] = batch.WorkItem{ID: id, Path: "/in/" + id + ".txt"}
	}
	return items
}

func numberedItems(n int) []batch.WorkItem {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("item-%02d", i)
	}
	return makeItems(ids...)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func runAsync(ctrl *batch.Controller, items []batch.WorkItem) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		outcome, err := ctrl.Run(context.Background(), items)
		done <- runResult{outcome: outcome, err: err}
	}()
	return done
}

type runResult struct {
	outcome batch.Outcome
	err     error
}

func waitRun(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
	return runResult{}
}

func TestControllerProcessesAllItems(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		return extract.Extraction{Content: "text of " + item.ID, Confidence: 0.9}, nil
	})

	var progressMu sync.Mutex
	var progress []int
	ctrl := batch.New(extractor,
		batch.WithConcurrency(4),
		batch.WithProgress(func(current, total int, _ string) {
			progressMu.Lock()
			progress = append(progress, current)
			progressMu.Unlock()
			if total != 20 {
				t.Errorf("progress total = %d, want 20", total)
			}
		}),
	)

	outcome, err := ctrl.Run(context.Background(), numberedItems(20))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.State != batch.StateCompleted {
		t.Fatalf("state = %s, want completed", outcome.State)
	}
	if len(outcome.Results) != 20 || len(outcome.Errors) != 0 {
		t.Fatalf("results=%d errors=%d, want 20/0", len(outcome.Results), len(outcome.Errors))
	}
	if counter.total() != 20 {
		t.Fatalf("extract calls = %d, want 20", counter.total())
	}
	if len(progress) != 20 || progress[len(progress)-1] != 20 {
		t.Fatalf("progress callbacks = %v, want 20 ending at 20", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] != progress[i-1]+1 {
			t.Fatalf("progress not monotonic: %v", progress)
		}
	}
	if got := outcome.Results[0].Provenance.Backend; got != "custom" {
		t.Fatalf("backend = %q, want custom", got)
	}
	if ctrl.State() != batch.StateCompleted {
		t.Fatalf("State() = %s, want completed", ctrl.State())
	}
	cp := ctrl.Checkpoint()
	if cp.ProcessedCount != 20 || len(cp.ProcessedIDs) != 20 || cp.Total != 20 {
		t.Fatalf("checkpoint counts = %d/%d/%d, want 20", cp.ProcessedCount, len(cp.ProcessedIDs), cp.Total)
	}
}

func TestConcurrencyClamp(t *testing.T) {
	noop := extract.Func(func(context.Context, source.Item) (extract.Extraction, error) {
		return extract.Extraction{}, nil
	})
	cases := []struct {
		opts []batch.Option
		want int
	}{
		{nil, 1},
		{[]batch.Option{batch.WithConcurrency(0)}, 1},
		{[]batch.Option{batch.WithConcurrency(-3)}, 1},
		{[]batch.Option{batch.WithConcurrency(8)}, 8},
		{[]batch.Option{batch.WithConcurrency(1000)}, batch.DefaultMaxConcurrency},
		{[]batch.Option{batch.WithMaxConcurrency(100), batch.WithConcurrency(90)}, 90},
		{[]batch.Option{batch.WithMaxConcurrency(100000), batch.WithConcurrency(100000)}, batch.HardConcurrencyCeiling},
	}
	for i, tc := range cases {
		if got := batch.New(noop, tc.opts...).Concurrency(); got != tc.want {
			t.Fatalf("case %d: concurrency = %d, want %d", i, got, tc.want)
		}
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		if item.ID == "bad" {
			return extract.Extraction{}, extract.Permanent(errors.New("unsupported format"))
		}
		return extract.Extraction{Content: "ok"}, nil
	})
	ctrl := batch.New(extractor, batch.WithClock(noSleep))

	outcome, err := ctrl.Run(context.Background(), makeItems("a", "bad", "c"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if counter.get("bad") != 1 {
		t.Fatalf("bad item attempts = %d, want 1", counter.get("bad"))
	}
	if len(outcome.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(outcome.Errors))
	}
	rec := outcome.Errors[0]
	if rec.ItemID != "bad" || rec.Kind != jobstore.ErrorKindPermanent || rec.Attempts != 1 {
		t.Fatalf("error record = %+v", rec)
	}
	if outcome.State != batch.StateCompleted || len(outcome.Results) != 2 {
		t.Fatalf("state=%s results=%d, want completed/2", outcome.State, len(outcome.Results))
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		if counter.add(item.ID) < 3 {
			return extract.Extraction{}, extract.Transient(errors.New("backend timeout"))
		}
		return extract.Extraction{Content: "ok"}, nil
	})

	var sleepMu sync.Mutex
	var delays []time.Duration
	ctrl := batch.New(extractor,
		batch.WithRetryPolicy(batch.RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}),
		batch.WithClock(func(ctx context.Context, d time.Duration) error {
			sleepMu.Lock()
			delays = append(delays, d)
			sleepMu.Unlock()
			return ctx.Err()
		}),
	)

	outcome, err := ctrl.Run(context.Background(), makeItems("flaky"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(outcome.Results))
	}
	if got := outcome.Results[0].Provenance.Attempts; got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("delays = %v, want [1s 2s]", delays)
	}
	if cp := ctrl.Checkpoint(); len(cp.RetryState) != 0 {
		t.Fatalf("retry state not cleared: %v", cp.RetryState)
	}
}

func TestBurstFailureAutoPausesAndResumes(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		if item.ID == "item-00" {
			return extract.Extraction{}, extract.Transient(errors.New("backend timeout"))
		}
		return extract.Extraction{Content: "ok"}, nil
	})

	paused := make(chan struct{}, 1)
	var transitions []batch.State
	var transMu sync.Mutex
	ctrl := batch.New(extractor,
		batch.WithConcurrency(1),
		batch.WithRetryPolicy(batch.RetryPolicy{MaxRetries: 5, BurstThreshold: 5}),
		batch.WithClock(noSleep),
		batch.WithStateChange(func(_, to batch.State, _ string) {
			transMu.Lock()
			transitions = append(transitions, to)
			transMu.Unlock()
			if to == batch.StatePaused {
				paused <- struct{}{}
			}
		}),
	)

	done := runAsync(ctrl, numberedItems(10))
	select {
	case <-paused:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for auto-pause")
	}
	if got := counter.get("item-00"); got != 5 {
		t.Fatalf("attempts before pause = %d, want 5", got)
	}
	if ctrl.State() != batch.StatePaused {
		t.Fatalf("State() = %s, want paused", ctrl.State())
	}
	if cp := ctrl.Checkpoint(); cp.ConsecutiveErrors != 5 || cp.RetryState["item-00"] != 5 {
		t.Fatalf("checkpoint consecutive=%d retry=%v", cp.ConsecutiveErrors, cp.RetryState)
	}

	ctrl.Resume()
	res := waitRun(t, done)
	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	if res.outcome.State != batch.StateCompleted {
		t.Fatalf("state = %s, want completed", res.outcome.State)
	}
	if len(res.outcome.Results) != 9 || len(res.outcome.Errors) != 1 {
		t.Fatalf("results=%d errors=%d, want 9/1", len(res.outcome.Results), len(res.outcome.Errors))
	}
	if got := counter.get("item-00"); got != 6 {
		t.Fatalf("total attempts = %d, want 6", got)
	}
	if res.outcome.Errors[0].Attempts != 6 {
		t.Fatalf("recorded attempts = %d, want 6", res.outcome.Errors[0].Attempts)
	}

	transMu.Lock()
	defer transMu.Unlock()
	seen := make(map[batch.State]int)
	for _, state := range transitions {
		seen[state]++
	}
	if transitions[0] != batch.StatePaused || seen[batch.StateRunning] != 1 || seen[batch.StateCompleted] != 1 {
		t.Fatalf("transitions = %v, want paused then one resume and one completion", transitions)
	}
}

func TestPauseResumeDoesNotReprocess(t *testing.T) {
	counter := &callCounter{}
	var ctrl *batch.Controller
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		if item.ID == "item-02" {
			ctrl.Pause()
		}
		return extract.Extraction{Content: item.ID}, nil
	})

	paused := make(chan struct{}, 1)
	var checkpoints []jobstore.Checkpoint
	var cpMu sync.Mutex
	ctrl = batch.New(extractor,
		batch.WithConcurrency(1),
		batch.WithCheckpointEvery(0),
		batch.WithCheckpointInterval(0),
		batch.WithCheckpoint(func(cp jobstore.Checkpoint) {
			cpMu.Lock()
			checkpoints = append(checkpoints, cp)
			cpMu.Unlock()
		}),
		batch.WithStateChange(func(_, to batch.State, _ string) {
			if to == batch.StatePaused {
				paused <- struct{}{}
			}
		}),
	)

	done := runAsync(ctrl, numberedItems(6))
	select {
	case <-paused:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for pause")
	}
	if ctrl.State() != batch.StatePaused {
		t.Fatalf("State() = %s, want paused", ctrl.State())
	}
	ctrl.Pause()

	ctrl.Resume()
	res := waitRun(t, done)
	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	if len(res.outcome.Results) != 6 {
		t.Fatalf("results = %d, want 6", len(res.outcome.Results))
	}
	for _, item := range numberedItems(6) {
		if got := counter.get(item.ID); got != 1 {
			t.Fatalf("%s extracted %d times, want 1", item.ID, got)
		}
	}

	cpMu.Lock()
	defer cpMu.Unlock()
	if len(checkpoints) != 2 {
		t.Fatalf("checkpoints = %d, want one on pause and one at end", len(checkpoints))
	}
	if last := checkpoints[len(checkpoints)-1]; last.ProcessedCount != 6 {
		t.Fatalf("final checkpoint processed = %d, want 6", last.ProcessedCount)
	}
}

func TestStopCancelsRemainingItems(t *testing.T) {
	var ctrl *batch.Controller
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		if item.ID == "item-01" {
			ctrl.Stop()
		}
		return extract.Extraction{Content: item.ID}, nil
	})
	ctrl = batch.New(extractor, batch.WithConcurrency(1))

	outcome, err := ctrl.Run(context.Background(), numberedItems(5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.State != batch.StateStopped {
		t.Fatalf("state = %s, want stopped", outcome.State)
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(outcome.Results))
	}
	if len(outcome.Cancelled) != 3 {
		t.Fatalf("cancelled = %d, want 3", len(outcome.Cancelled))
	}
	for _, rec := range outcome.Cancelled {
		if rec.Kind != jobstore.ErrorKindCancelled {
			t.Fatalf("cancelled kind = %s", rec.Kind)
		}
	}
	cp := ctrl.Checkpoint()
	if cp.ProcessedCount != 2 || len(cp.Errors) != 0 {
		t.Fatalf("checkpoint processed=%d errors=%d, want 2/0", cp.ProcessedCount, len(cp.Errors))
	}
	if ctrl.State() != batch.StateStopped {
		t.Fatalf("State() = %s, want stopped", ctrl.State())
	}
}

func TestStopReleasesPausedWorkers(t *testing.T) {
	extractor := extract.Func(func(context.Context, source.Item) (extract.Extraction, error) {
		return extract.Extraction{Content: "ok"}, nil
	})
	ctrl := batch.New(extractor, batch.WithConcurrency(2))
	ctrl.Pause()

	done := runAsync(ctrl, numberedItems(4))
	ctrl.Stop()
	res := waitRun(t, done)
	if res.outcome.State != batch.StateStopped {
		t.Fatalf("state = %s, want stopped", res.outcome.State)
	}
	if len(res.outcome.Results) != 0 || len(res.outcome.Cancelled) != 4 {
		t.Fatalf("results=%d cancelled=%d, want 0/4", len(res.outcome.Results), len(res.outcome.Cancelled))
	}
}

func TestRestoreSkipsProcessedItems(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		return extract.Extraction{Content: item.ID}, nil
	})
	ctrl := batch.New(extractor, batch.WithConcurrency(2))

	cp := jobstore.Checkpoint{
		ProcessedIDs:   []string{"a", "b", "c"},
		Results:        []jobstore.Result{{ItemID: "a"}, {ItemID: "b"}},
		Errors:         []jobstore.ErrorRecord{{ItemID: "c", Kind: jobstore.ErrorKindPermanent}},
		ProcessedCount: 3,
		RetryState:     map[string]int{"d": 2},
		Total:          5,
	}
	if err := ctrl.Restore(cp); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	outcome, err := ctrl.Run(context.Background(), makeItems("a", "b", "c", "d", "e"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if counter.get(id) != 0 {
			t.Fatalf("%s was reprocessed", id)
		}
	}
	if counter.get("d") != 1 || counter.get("e") != 1 {
		t.Fatalf("expected d and e processed once, got %d/%d", counter.get("d"), counter.get("e"))
	}
	if outcome.Total != 5 || outcome.Processed != 5 {
		t.Fatalf("total=%d processed=%d, want 5/5", outcome.Total, outcome.Processed)
	}
	if len(outcome.Results) != 4 || len(outcome.Errors) != 1 {
		t.Fatalf("results=%d errors=%d, want 4/1", len(outcome.Results), len(outcome.Errors))
	}
	for _, r := range outcome.Results {
		if r.ItemID == "d" && r.Provenance.Attempts != 3 {
			t.Fatalf("restored retry state not applied: attempts=%d", r.Provenance.Attempts)
		}
	}
}

func TestRestoreRejectsInvalidCheckpoint(t *testing.T) {
	noop := extract.Func(func(context.Context, source.Item) (extract.Extraction, error) {
		return extract.Extraction{}, nil
	})
	ctrl := batch.New(noop)
	bad := jobstore.Checkpoint{
		Results:        []jobstore.Result{{ItemID: "a"}},
		ProcessedCount: 2,
	}
	if err := ctrl.Restore(bad); err == nil {
		t.Fatal("expected error for inconsistent checkpoint")
	}

	if _, err := ctrl.Run(context.Background(), makeItems("a")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := ctrl.Restore(jobstore.Checkpoint{}); !errors.Is(err, batch.ErrAlreadyStarted) {
		t.Fatalf("Restore after Run err = %v, want ErrAlreadyStarted", err)
	}
	if _, err := ctrl.Run(context.Background(), makeItems("b")); !errors.Is(err, batch.ErrAlreadyStarted) {
		t.Fatalf("second Run err = %v, want ErrAlreadyStarted", err)
	}
}

func TestRestoreClearsConsecutiveFailures(t *testing.T) {
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		if item.ID == "bad" {
			return extract.Extraction{}, extract.Permanent(errors.New("unreadable"))
		}
		return extract.Extraction{Content: item.ID}, nil
	})
	ctrl := batch.New(extractor,
		batch.WithClock(noSleep),
		batch.WithRetryPolicy(batch.RetryPolicy{MaxRetries: 1, BurstThreshold: 2}),
	)
	cp := jobstore.Checkpoint{
		ProcessedIDs:      []string{"a"},
		Errors:            []jobstore.ErrorRecord{{ItemID: "a", Kind: jobstore.ErrorKindPermanent, Attempts: 1}},
		ProcessedCount:    1,
		ConsecutiveErrors: 1,
		Total:             3,
	}
	if err := ctrl.Restore(cp); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := ctrl.Checkpoint().ConsecutiveErrors; got != 0 {
		t.Fatalf("consecutive errors after restore = %d, want 0", got)
	}

	res := waitRun(t, runAsync(ctrl, makeItems("a", "bad", "c")))
	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	if res.outcome.State != batch.StateCompleted {
		t.Fatalf("state = %s, want completed without a burst pause", res.outcome.State)
	}
	if len(res.outcome.Results) != 1 || len(res.outcome.Errors) != 2 {
		t.Fatalf("results=%d errors=%d, want 1/2", len(res.outcome.Results), len(res.outcome.Errors))
	}
}

func TestDuplicateInputItemsRunOnce(t *testing.T) {
	counter := &callCounter{}
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		counter.add(item.ID)
		return extract.Extraction{}, nil
	})
	outcome, err := batch.New(extractor).Run(context.Background(), makeItems("a", "a", "b"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if counter.get("a") != 1 || outcome.Total != 2 || len(outcome.Results) != 2 {
		t.Fatalf("a calls=%d total=%d results=%d", counter.get("a"), outcome.Total, len(outcome.Results))
	}
}

func TestSystemicFailureEndsInError(t *testing.T) {
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		if item.ID == "item-01" {
			return extract.Extraction{}, services.Wrap(services.ErrSystemic, "extract", "connect", "backend offline", nil)
		}
		return extract.Extraction{Content: "ok"}, nil
	})
	ctrl := batch.New(extractor, batch.WithConcurrency(1))

	outcome, err := ctrl.Run(context.Background(), numberedItems(4))
	if !errors.Is(err, services.ErrSystemic) {
		t.Fatalf("Run err = %v, want systemic", err)
	}
	if outcome.State != batch.StateError || ctrl.State() != batch.StateError {
		t.Fatalf("state = %s/%s, want error", outcome.State, ctrl.State())
	}
	if len(outcome.Results) != 1 || len(outcome.Cancelled) != 3 {
		t.Fatalf("results=%d cancelled=%d, want 1/3", len(outcome.Results), len(outcome.Cancelled))
	}
}

func TestContextCancellationEndsInError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor := extract.Func(func(_ context.Context, item source.Item) (extract.Extraction, error) {
		if item.ID == "item-00" {
			cancel()
		}
		return extract.Extraction{Content: "ok"}, nil
	})
	outcome, err := batch.New(extractor, batch.WithConcurrency(1)).Run(ctx, numberedItems(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if outcome.State != batch.StateError {
		t.Fatalf("state = %s, want error", outcome.State)
	}
}

func TestCheckpointCadence(t *testing.T) {
	extractor := extract.Func(func(context.Context, source.Item) (extract.Extraction, error) {
		return extract.Extraction{Content: "ok"}, nil
	})
	var mu sync.Mutex
	var saved []jobstore.Checkpoint
	ctrl := batch.New(extractor,
		batch.WithConcurrency(1),
		batch.WithCheckpointEvery(2),
		batch.WithCheckpointInterval(0),
		batch.WithCheckpoint(func(cp jobstore.Checkpoint) {
			mu.Lock()
			saved = append(saved, cp)
			mu.Unlock()
		}),
	)
	if _, err := ctrl.Run(context.Background(), numberedItems(5)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(saved) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(saved))
	}
	prev := -1
	for _, cp := range saved {
		if err := cp.Validate(cp.Total); err != nil {
			t.Fatalf("invalid checkpoint: %v", err)
		}
		if cp.ProcessedCount < prev {
			t.Fatalf("checkpoint went backwards: %d after %d", cp.ProcessedCount, prev)
		}
		prev = cp.ProcessedCount
	}
	if prev != 5 {
		t.Fatalf("final checkpoint processed = %d, want 5", prev)
	}
}
