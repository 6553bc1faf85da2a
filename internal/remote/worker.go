package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"docbatch/internal/batch"
	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/services"
	"docbatch/internal/source"
)

// Task is one dispatched item. Generation is the job's dispatch generation
// when the task was enqueued.
type Task struct {
	JobID      string      `json:"job_id"`
	Generation int         `json:"generation"`
	Item       source.Item `json:"item"`
}

// Queue accepts dispatched tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Handler processes one task.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// storeRetryDelays spaces out retries of outcome and acknowledgement writes.
var storeRetryDelays = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
}

// Worker extracts dispatched items and records their outcomes.
type Worker struct {
	id        string
	store     jobstore.Repository
	extractor extract.Extractor
	backend   string
	policy    batch.RetryPolicy
	logger    *slog.Logger
	sleep     batch.SleepFunc

	mu     sync.Mutex
	limits map[string]*jobLimit
}

// jobLimit bounds how many of one job's items this worker runs at once.
type jobLimit struct {
	sem   *semaphore.Weighted
	users int
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerID overrides the generated worker id.
func WithWorkerID(id string) WorkerOption {
	return func(w *Worker) {
		if id != "" {
			w.id = id
		}
	}
}

// WithPolicy sets the backoff delays. Each job's own MaxRetries replaces
// the policy's, and the burst threshold is ignored.
func WithPolicy(p batch.RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn batch.SleepFunc) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// NewWorker builds a worker bound to store and extractor.
func NewWorker(store jobstore.Repository, extractor extract.Extractor, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:        "worker-" + uuid.NewString()[:8],
		store:     store,
		extractor: extractor,
		backend:   extract.BackendName(extractor),
		policy:    batch.DefaultRetryPolicy(),
		logger:    logging.NewNop(),
		sleep:     sleepContext,
		limits:    make(map[string]*jobLimit),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "remote").With(logging.String(logging.FieldWorker, w.id))
	return w
}

// ID returns the worker id recorded in result provenance.
func (w *Worker) ID() string {
	return w.id
}

// Handle extracts the task's item, appends the outcome and acknowledges it.
// Tasks for jobs that are no longer processing are dropped. A cancelled
// context leaves the item unacknowledged. When the outcome cannot be stored
// after retries the job moves to error so an operator can re-dispatch it.
func (w *Worker) Handle(ctx context.Context, task Task) error {
	ctx = services.WithJobID(ctx, task.JobID)
	ctx = services.WithItemID(ctx, task.Item.ID)
	ctx = services.WithWorker(ctx, w.id)
	logger := logging.WithContext(ctx, w.logger)

	var job *jobstore.Job
	err := w.retryStore(ctx, logger, "load job", func() error {
		var err error
		job, err = w.store.GetByID(ctx, task.JobID)
		return err
	})
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			logger.Info("job no longer exists; dropping item",
				logging.String(logging.FieldEventType, "task_skipped"),
			)
			return nil
		}
		return w.failJob(ctx, logger, task, fmt.Errorf("load job: %w", err))
	}
	if job.Status != jobstore.StatusProcessing {
		logger.Info("job is not processing; dropping item",
			logging.String(logging.FieldEventType, "task_skipped"),
			logging.String("status", string(job.Status)),
		)
		return nil
	}
	if job.DispatchGeneration != task.Generation {
		logger.Info("item was re-dispatched; dropping stale task",
			logging.String(logging.FieldEventType, "task_skipped"),
			logging.Int("generation", task.Generation),
			logging.Int("current_generation", job.DispatchGeneration),
		)
		return nil
	}

	release, err := w.acquire(ctx, job)
	if err != nil {
		return err
	}
	defer release()

	policy := w.policy
	policy.MaxRetries = job.MaxRetries
	outcome, err := w.execute(ctx, logger, task.Item, policy)
	if err != nil {
		return err
	}
	err = w.retryStore(ctx, logger, "append outcome", func() error {
		return w.store.AppendOutcome(ctx, task.JobID, outcome)
	})
	if err != nil {
		return w.failJob(ctx, logger, task, fmt.Errorf("append outcome: %w", err))
	}
	err = w.retryStore(ctx, logger, "acknowledge", func() error {
		return w.store.RecordAcknowledged(ctx, task.JobID, task.Generation)
	})
	if errors.Is(err, jobstore.ErrStaleDispatch) {
		logger.Info("job was re-dispatched while the item ran; outcome kept, acknowledgement dropped",
			logging.String(logging.FieldEventType, "ack_superseded"),
		)
		return nil
	}
	if err != nil {
		return w.failJob(ctx, logger, task, fmt.Errorf("acknowledge: %w", err))
	}
	return nil
}

// acquire waits for one of the job's concurrency slots.
func (w *Worker) acquire(ctx context.Context, job *jobstore.Job) (func(), error) {
	size := int64(job.Concurrency)
	if size < 1 {
		size = 1
	}
	w.mu.Lock()
	limit := w.limits[job.ID]
	if limit == nil {
		limit = &jobLimit{sem: semaphore.NewWeighted(size)}
		w.limits[job.ID] = limit
	}
	limit.users++
	w.mu.Unlock()

	done := func() {
		w.mu.Lock()
		limit.users--
		if limit.users == 0 {
			delete(w.limits, job.ID)
		}
		w.mu.Unlock()
	}
	if err := limit.sem.Acquire(ctx, 1); err != nil {
		done()
		return nil, err
	}
	return func() {
		limit.sem.Release(1)
		done()
	}, nil
}

// retryStore runs fn until it succeeds, the job is gone, ctx ends, or the
// retry delays are exhausted.
func (w *Worker) retryStore(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || ctx.Err() != nil || attempt >= len(storeRetryDelays) ||
			errors.Is(err, jobstore.ErrNotFound) || errors.Is(err, jobstore.ErrStaleDispatch) {
			return err
		}
		logging.WarnWithContext(logger, "job store call failed; retrying", "store_retry",
			logging.String("operation", op),
			logging.Int(logging.FieldAttempt, attempt+1),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store connectivity"),
		)
		if err := w.sleep(ctx, storeRetryDelays[attempt]); err != nil {
			return err
		}
	}
}

// failJob moves the task's job from processing to error. The stored
// outcomes stay in place for a re-dispatch.
func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, task Task, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := services.Wrap(services.ErrSystemic, "remote", "record item", task.Item.ID, cause)
	logging.ErrorWithContext(logger, "could not record item outcome; failing job", "job_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldErrorHint, "fix the job store, then run: docbatch aggregate --retrigger "+task.JobID),
	)
	storeCtx := context.WithoutCancel(ctx)
	if _, terr := w.store.TransitionStatus(storeCtx, task.JobID, jobstore.StatusProcessing, jobstore.StatusError,
		jobstore.Extra{Message: err.Error()}); terr != nil {
		logging.WarnWithContext(logger, "record job failure", "status_update_failed", logging.Error(terr))
	}
	return err
}

func (w *Worker) execute(ctx context.Context, logger *slog.Logger, item source.Item, policy batch.RetryPolicy) (jobstore.Outcome, error) {
	started := time.Now()
	for attempt := 1; ; attempt++ {
		extraction, err := w.extractor.Extract(ctx, item)
		if err == nil {
			return jobstore.Outcome{Result: &jobstore.Result{
				ItemID:     item.ID,
				Content:    extraction.Content,
				Confidence: extraction.Confidence,
				Attributes: maps.Clone(extraction.Attributes),
				Provenance: jobstore.Provenance{
					Backend:     w.backend,
					Worker:      w.id,
					Attempts:    attempt,
					Duration:    time.Since(started),
					CompletedAt: time.Now().UTC(),
				},
			}}, nil
		}
		if ctx.Err() != nil {
			return jobstore.Outcome{}, ctx.Err()
		}

		transient := extract.IsTransient(err) && !errors.Is(err, services.ErrSystemic)
		if !transient || !policy.CanRetry(attempt) {
			kind := jobstore.ErrorKindPermanent
			if transient {
				kind = jobstore.ErrorKindTransient
			}
			logger.Warn("item failed",
				logging.String(logging.FieldEventType, "item_failed"),
				logging.Int(logging.FieldAttempt, attempt),
				logging.String(logging.FieldErrorKind, string(kind)),
				logging.String(logging.FieldErrorHint, "inspect the item; the job continues"),
				logging.Error(err),
			)
			return jobstore.Outcome{Error: &jobstore.ErrorRecord{
				ItemID:   item.ID,
				Reason:   err.Error(),
				Kind:     kind,
				Attempts: attempt,
				FailedAt: time.Now().UTC(),
			}}, nil
		}

		delay := policy.Backoff(attempt - 1)
		logger.Info("retrying item",
			logging.String(logging.FieldEventType, "item_retry"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		if err := w.sleep(ctx, delay); err != nil {
			return jobstore.Outcome{}, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
