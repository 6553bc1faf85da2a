package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/services"
)

// ErrAlreadyStarted is returned by Run and Restore once a run has begun.
var ErrAlreadyStarted = errors.New("batch run already started")

// Outcome is the settled state of a run.
type Outcome struct {
	State     State
	Results   []jobstore.Result
	Errors    []jobstore.ErrorRecord
	Cancelled []jobstore.ErrorRecord
	Processed int
	Total     int
	Duration  time.Duration
}

// Controller executes one run. Build it with New, optionally Restore a
// checkpoint, then call Run once.
type Controller struct {
	extractor          extract.Extractor
	backend            string
	policy             RetryPolicy
	concurrency        int
	maxConcurrency     int
	checkpointInterval time.Duration
	checkpointEvery    int
	limiter            *rate.Limiter
	logger             *slog.Logger
	sleep              SleepFunc
	onProgress         ProgressFunc
	onCheckpoint       CheckpointFunc
	onState            StateFunc
	sampler            *logging.ProgressSampler

	gate *gate

	// emitMu orders checkpoint callbacks so a stale snapshot never follows a newer one.
	emitMu sync.Mutex

	mu              sync.Mutex
	started         bool
	lifecycle       State
	fatalErr        error
	total           int
	processedIDs    []string
	processed       map[string]struct{}
	results         []jobstore.Result
	errors          []jobstore.ErrorRecord
	cancelled       []jobstore.ErrorRecord
	retryState      map[string]int
	consecutive     int
	sinceCheckpoint int
	lastCheckpoint  time.Time
}

// New builds a controller for extractor.
func New(extractor extract.Extractor, opts ...Option) *Controller {
	c := &Controller{
		extractor:          extractor,
		backend:            extract.BackendName(extractor),
		policy:             DefaultRetryPolicy(),
		concurrency:        1,
		maxConcurrency:     DefaultMaxConcurrency,
		checkpointInterval: defaultCheckpointInterval,
		checkpointEvery:    defaultCheckpointEvery,
		logger:             logging.NewNop(),
		sleep:              timerSleep,
		sampler:            logging.NewProgressSampler(5),
		gate:               newGate(),
		lifecycle:          StateRunning,
		processed:          make(map[string]struct{}),
		retryState:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy = c.policy.normalized()
	c.concurrency = clampConcurrency(c.concurrency, c.maxConcurrency)
	c.logger = logging.NewComponentLogger(c.logger, "batch")
	return c
}

// Concurrency returns the effective worker count after clamping.
func (c *Controller) Concurrency() int {
	return c.concurrency
}

// Policy returns the effective retry policy.
func (c *Controller) Policy() RetryPolicy {
	return c.policy
}

// Restore reseeds accounting from a prior checkpoint. It must be called before Run.
func (c *Controller) Restore(cp jobstore.Checkpoint) error {
	if err := cp.Validate(cp.Total); err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}
	cp = cp.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.results = cp.Results
	c.errors = cp.Errors
	c.retryState = cp.RetryState
	if c.retryState == nil {
		c.retryState = make(map[string]int)
	}
	// A restore starts a fresh burst streak.
	c.consecutive = 0
	c.total = cp.Total

	ids := cp.ProcessedIDs
	if len(ids) != cp.ProcessedCount {
		ids = make([]string, 0, cp.ProcessedCount)
		for _, r := range cp.Results {
			ids = append(ids, r.ItemID)
		}
		for _, e := range cp.Errors {
			ids = append(ids, e.ItemID)
		}
	}
	c.processedIDs = ids
	c.processed = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.processed[id] = struct{}{}
	}
	c.logger.Info("restored from checkpoint",
		logging.String(logging.FieldEventType, "checkpoint_restored"),
		logging.Int("processed", len(ids)),
		logging.Int("results", len(c.results)),
		logging.Int("errors", len(c.errors)),
		logging.Int("consecutive_errors_cleared", cp.ConsecutiveErrors),
	)
	return nil
}

// Run executes items and blocks until every dispatched item has settled.
// Items whose ids were restored from a checkpoint are skipped.
func (c *Controller) Run(ctx context.Context, items []WorkItem) (Outcome, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return Outcome{}, ErrAlreadyStarted
	}
	c.started = true
	pending := make([]WorkItem, 0, len(items))
	queued := make(map[string]struct{}, len(items))
	skipped := 0
	for _, item := range items {
		if _, done := c.processed[item.ID]; done {
			skipped++
			continue
		}
		if _, dup := queued[item.ID]; dup {
			skipped++
			continue
		}
		queued[item.ID] = struct{}{}
		pending = append(pending, item)
	}
	c.total = len(c.processedIDs) + len(pending)
	c.lastCheckpoint = time.Now()
	total := c.total
	c.mu.Unlock()

	start := time.Now()
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.Int("items", len(pending)),
		logging.Int("total", total),
		logging.Int("skipped", skipped),
		logging.Int("concurrency", c.concurrency),
	)

	stopCtx, cancelStop := context.WithCancel(ctx)
	defer cancelStop()
	go func() {
		select {
		case <-c.gate.cancelled:
			cancelStop()
		case <-stopCtx.Done():
		}
	}()

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, item := range pending {
		if c.gate.isStopped() || ctx.Err() != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = errStopped
			}
			for _, rest := range pending[i:] {
				c.recordCancelled(rest, cause)
			}
			break
		}
		g.Go(func() error {
			c.process(ctx, stopCtx, item)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	state := StateCompleted
	var runErr error
	processed := len(c.results) + len(c.errors)
	switch {
	case c.fatalErr != nil:
		state = StateError
		runErr = c.fatalErr
	case ctx.Err() != nil && processed < c.total:
		state = StateError
		runErr = ctx.Err()
		c.fatalErr = runErr
	case c.gate.isStopped():
		state = StateStopped
	}
	c.lifecycle = state
	outcome := Outcome{
		State:     state,
		Results:   cloneResults(c.results),
		Errors:    append([]jobstore.ErrorRecord(nil), c.errors...),
		Cancelled: append([]jobstore.ErrorRecord(nil), c.cancelled...),
		Processed: processed,
		Total:     c.total,
		Duration:  time.Since(start),
	}
	c.mu.Unlock()

	c.emitCheckpoint()
	if state != StateStopped {
		reason := "all items settled"
		if runErr != nil {
			reason = runErr.Error()
		}
		c.notifyState(StateRunning, state, reason)
	}

	attrs := []logging.Attr{
		logging.String("state", string(state)),
		logging.Int("succeeded", len(outcome.Results)),
		logging.Int("failed", len(outcome.Errors)),
		logging.Int("cancelled", len(outcome.Cancelled)),
		logging.Duration("duration", outcome.Duration),
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "batch failed", "job_failed",
			append(attrs,
				logging.Error(runErr),
				logging.String(logging.FieldErrorKind, services.Kind(runErr)),
				logging.String(logging.FieldErrorHint, "fix the backend, then restore the job from its checkpoint"),
			)...)
	} else {
		logger.Info("batch finished", logging.Args(append(attrs, logging.String(logging.FieldEventType, "job_completed"))...)...)
	}
	return outcome, runErr
}

func (c *Controller) process(ctx, stopCtx context.Context, item WorkItem) {
	itemCtx := services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(itemCtx, c.logger)
	started := time.Now()

	for {
		if err := c.gate.wait(stopCtx); err != nil {
			c.recordCancelled(item, err)
			return
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(stopCtx); err != nil {
				c.recordCancelled(item, err)
				return
			}
		}

		extraction, err := c.extractor.Extract(itemCtx, item.sourceItem())
		if err == nil {
			worker, _ := services.WorkerFromContext(ctx)
			c.recordSuccess(item, worker, extraction, time.Since(started))
			return
		}
		if ctx.Err() != nil {
			c.recordCancelled(item, ctx.Err())
			return
		}
		if errors.Is(err, services.ErrSystemic) {
			c.fail(err)
			c.recordCancelled(item, err)
			return
		}

		transient := extract.IsTransient(err)
		attempts, paused := c.recordFailure(item.ID)
		item.Attempts = attempts
		if paused {
			logging.WarnWithContext(logger, "consecutive failures reached threshold; pausing", "burst_pause",
				logging.Int("consecutive", c.policy.BurstThreshold),
				logging.Int(logging.FieldAttempt, attempts),
				logging.Error(err),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldErrorHint, "check the extraction backend, then resume the job"),
			)
			c.notifyState(StateRunning, StatePaused, "consecutive failure threshold reached")
			c.emitCheckpoint()
			if err := c.gate.wait(stopCtx); err != nil {
				c.recordCancelled(item, err)
				return
			}
		}

		if !transient || !c.policy.CanRetry(attempts) {
			c.recordError(item, err, attempts, transient)
			return
		}
		if paused {
			continue
		}
		delay := c.policy.Backoff(attempts - 1)
		logger.Info("retrying item",
			logging.String(logging.FieldEventType, "item_retry"),
			logging.Int(logging.FieldAttempt, attempts),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		if err := c.sleep(stopCtx, delay); err != nil {
			c.recordCancelled(item, err)
			return
		}
	}
}

// recordFailure bumps the item's attempt count and the shared consecutive
// counter, pausing the gate when the burst threshold is reached.
func (c *Controller) recordFailure(id string) (attempts int, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryState[id]++
	c.consecutive++
	attempts = c.retryState[id]
	if c.policy.ShouldPause(c.consecutive) {
		paused = c.gate.pause()
	}
	return attempts, paused
}

func (c *Controller) recordSuccess(item WorkItem, worker string, extraction extract.Extraction, elapsed time.Duration) {
	c.mu.Lock()
	attempts := c.retryState[item.ID] + 1
	c.consecutive = 0
	delete(c.retryState, item.ID)
	c.results = append(c.results, jobstore.Result{
		ItemID:     item.ID,
		Content:    extraction.Content,
		Confidence: extraction.Confidence,
		Attributes: maps.Clone(extraction.Attributes),
		Provenance: jobstore.Provenance{
			Backend:     c.backend,
			Worker:      worker,
			Attempts:    attempts,
			Duration:    elapsed,
			CompletedAt: time.Now().UTC(),
		},
	})
	due := c.settleLocked(item)
	c.mu.Unlock()
	if due {
		c.emitCheckpoint()
	}
}

func (c *Controller) recordError(item WorkItem, err error, attempts int, transient bool) {
	kind := jobstore.ErrorKindPermanent
	if transient {
		kind = jobstore.ErrorKindTransient
	}
	c.mu.Lock()
	delete(c.retryState, item.ID)
	c.errors = append(c.errors, jobstore.ErrorRecord{
		ItemID:   item.ID,
		Reason:   err.Error(),
		Kind:     kind,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	due := c.settleLocked(item)
	c.mu.Unlock()

	c.logger.Warn("item failed",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldEventType, "item_failed"),
		logging.Int(logging.FieldAttempt, attempts),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.String(logging.FieldErrorHint, "inspect the item; the job continues"),
		logging.Error(err),
	)
	if due {
		c.emitCheckpoint()
	}
}

func (c *Controller) recordCancelled(item WorkItem, cause error) {
	reason := "cancelled"
	if cause != nil && !errors.Is(cause, errStopped) && !errors.Is(cause, context.Canceled) {
		reason = "cancelled: " + cause.Error()
	}
	c.mu.Lock()
	c.cancelled = append(c.cancelled, jobstore.ErrorRecord{
		ItemID:   item.ID,
		Reason:   reason,
		Kind:     jobstore.ErrorKindCancelled,
		Attempts: item.Attempts,
		FailedAt: time.Now().UTC(),
	})
	c.mu.Unlock()
}

// settleLocked marks item processed, fires the progress callback, and
// reports whether a checkpoint is due. c.mu must be held.
func (c *Controller) settleLocked(item WorkItem) bool {
	c.processedIDs = append(c.processedIDs, item.ID)
	c.processed[item.ID] = struct{}{}
	current := len(c.processedIDs)
	if c.onProgress != nil {
		c.onProgress(current, c.total, item.Name())
	}
	if c.sampler.ShouldLog(current, c.total) {
		c.logger.Info("batch progress",
			logging.Int("processed", current),
			logging.Int("total", c.total),
			logging.Int("succeeded", len(c.results)),
			logging.Int("failed", len(c.errors)),
		)
	}
	c.sinceCheckpoint++
	byCount := c.checkpointEvery > 0 && c.sinceCheckpoint >= c.checkpointEvery
	byTime := c.checkpointInterval > 0 && time.Since(c.lastCheckpoint) >= c.checkpointInterval
	return byCount || byTime
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
		c.lifecycle = StateError
	}
	c.mu.Unlock()
	c.gate.stop()
}

func (c *Controller) emitCheckpoint() {
	if c.onCheckpoint == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	cp := c.snapshotLocked()
	c.sinceCheckpoint = 0
	c.lastCheckpoint = time.Now()
	c.mu.Unlock()

	c.onCheckpoint(cp)
}

func (c *Controller) notifyState(from, to State, reason string) {
	if c.onState != nil {
		c.onState(from, to, reason)
	}
}

// Pause gates further progress. Workers finish their current attempt first.
func (c *Controller) Pause() {
	c.mu.Lock()
	terminal := c.lifecycle.Terminal()
	c.mu.Unlock()
	if terminal || !c.gate.pause() {
		return
	}
	c.logger.Info("batch paused", logging.String(logging.FieldEventType, "job_paused"))
	c.notifyState(StateRunning, StatePaused, "operator request")
	c.emitCheckpoint()
}

// Resume releases paused workers and resets the consecutive-failure counter.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.consecutive = 0
	c.mu.Unlock()
	if !c.gate.resume() {
		return
	}
	c.logger.Info("batch resumed", logging.String(logging.FieldEventType, "job_resumed"))
	c.notifyState(StatePaused, StateRunning, "operator request")
}

// Stop cancels the run. Paused workers are released so they observe it.
func (c *Controller) Stop() {
	c.mu.Lock()
	terminal := c.lifecycle.Terminal()
	c.mu.Unlock()
	if terminal {
		return
	}
	from := c.State()
	if !c.gate.stop() {
		return
	}
	c.logger.Info("batch stop requested", logging.String(logging.FieldEventType, "job_stopped"))
	c.notifyState(from, StateStopped, "operator request")
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	lifecycle := c.lifecycle
	c.mu.Unlock()
	switch {
	case lifecycle == StateError:
		return StateError
	case c.gate.isStopped():
		return StateStopped
	case lifecycle == StateCompleted:
		return StateCompleted
	case c.gate.isPaused():
		return StatePaused
	default:
		return StateRunning
	}
}

// Counts returns the number of results and errors recorded so far,
// including any restored from a checkpoint.
func (c *Controller) Counts() (succeeded, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results), len(c.errors)
}

// Checkpoint returns a consistent deep copy of the run's accounting.
func (c *Controller) Checkpoint() jobstore.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() jobstore.Checkpoint {
	cp := jobstore.Checkpoint{
		ProcessedIDs:      c.processedIDs,
		Results:           c.results,
		Errors:            c.errors,
		ProcessedCount:    len(c.results) + len(c.errors),
		RetryState:        c.retryState,
		ConsecutiveErrors: c.consecutive,
		Total:             c.total,
		SavedAt:           time.Now().UTC(),
	}
	return cp.Clone()
}

func cloneResults(results []jobstore.Result) []jobstore.Result {
	out := make([]jobstore.Result, len(results))
	for i, r := range results {
		r.Attributes = maps.Clone(r.Attributes)
		out[i] = r
	}
	return out
}
