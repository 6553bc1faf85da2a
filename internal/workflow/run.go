package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docbatch/internal/batch"
	"docbatch/internal/events"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/notifications"
	"docbatch/internal/report"
	"docbatch/internal/services"
)

const progressFlushInterval = time.Second

// run is one live in-process controller and the bookkeeping around it.
type run struct {
	job  *jobstore.Job
	ctrl *batch.Controller
	done chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	current string
	dirty   bool
}

func (r *run) setCurrent(name string) {
	r.mu.Lock()
	r.current = name
	r.dirty = true
	r.mu.Unlock()
}

func (r *run) takeProgress() (jobstore.Progress, bool) {
	r.mu.Lock()
	dirty := r.dirty
	current := r.current
	r.dirty = false
	r.mu.Unlock()
	succeeded, failed := r.ctrl.Counts()
	return jobstore.Progress{
		Processed:   succeeded + failed,
		Succeeded:   succeeded,
		Failed:      failed,
		CurrentItem: current,
	}, dirty
}

func stateEvent(jobID, state, reason string) events.Event {
	return events.Event{JobID: jobID, Kind: events.KindState, State: state, Reason: reason}
}

// launch builds a controller for job, registers it and starts it in the
// background. cp, when set, seeds accounting from a previous run.
func (m *Manager) launch(ctx context.Context, job *jobstore.Job, items []batch.WorkItem, cp *jobstore.Checkpoint) error {
	r := &run{
		job:  job,
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return services.Wrap(services.ErrSystemic, "workflow", "launch", "workflow manager is not running", nil)
	}
	if _, live := m.runs[job.ID]; live {
		m.mu.Unlock()
		return services.Wrap(services.ErrValidation, "workflow", "launch", "job "+job.ID+" is already running", nil)
	}
	runCtx := services.WithJobID(m.baseCtx, job.ID)
	m.mu.Unlock()

	storeCtx := context.WithoutCancel(runCtx)
	logger := logging.WithContext(runCtx, m.logger)

	opts := batch.ConfigOptions(m.cfg)
	if job.Concurrency > 0 {
		opts = append(opts, batch.WithConcurrency(job.Concurrency))
	}
	policy := batch.PolicyFromConfig(m.cfg)
	policy.MaxRetries = job.MaxRetries
	opts = append(opts,
		batch.WithRetryPolicy(policy),
		batch.WithLogger(m.runLogger),
		batch.WithProgress(func(current, total int, item string) {
			r.setCurrent(item)
			m.publish(events.Event{JobID: job.ID, Kind: events.KindProgress, Current: current, Total: total, Item: item})
		}),
		batch.WithCheckpoint(func(snapshot jobstore.Checkpoint) {
			m.saveCheckpoint(storeCtx, logger, job.ID, snapshot)
		}),
		batch.WithStateChange(func(from, to batch.State, reason string) {
			m.onStateChange(storeCtx, logger, job, from, to, reason)
		}),
	)
	opts = append(opts, m.batchOpts...)
	r.ctrl = batch.New(m.extractor, opts...)

	if cp != nil {
		if err := r.ctrl.Restore(*cp); err != nil {
			return services.Wrap(services.ErrValidation, "workflow", "restore checkpoint", job.ID, err)
		}
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return services.Wrap(services.ErrSystemic, "workflow", "launch", "workflow manager is not running", nil)
	}
	if _, live := m.runs[job.ID]; live {
		m.mu.Unlock()
		return services.Wrap(services.ErrValidation, "workflow", "launch", "job "+job.ID+" is already running", nil)
	}
	m.runs[job.ID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	applied, err := m.store.TransitionStatus(ctx, job.ID, job.Status, jobstore.StatusRunning, jobstore.Extra{})
	if err == nil && !applied {
		err = services.Wrap(services.ErrValidation, "workflow", "launch",
			fmt.Sprintf("job %s left %s before it could start", job.ID, job.Status), nil)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.runs, job.ID)
		m.mu.Unlock()
		m.wg.Done()
		return err
	}
	job.Status = jobstore.StatusRunning
	m.publish(stateEvent(job.ID, string(jobstore.StatusRunning), "started"))

	go m.flushProgress(storeCtx, logger, r)
	go func() {
		defer m.wg.Done()
		outcome, runErr := r.ctrl.Run(runCtx, items)
		m.finish(storeCtx, logger, r, outcome, runErr)
	}()
	return nil
}

func (m *Manager) flushProgress(ctx context.Context, logger *slog.Logger, r *run) {
	ticker := time.NewTicker(progressFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			m.writeProgress(ctx, logger, r, false)
		}
	}
}

func (m *Manager) writeProgress(ctx context.Context, logger *slog.Logger, r *run, force bool) {
	progress, dirty := r.takeProgress()
	if !dirty && !force {
		return
	}
	if err := m.store.UpdateProgress(ctx, r.job.ID, progress); err != nil {
		logging.WarnWithContext(logger, "persist progress failed", "progress_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
	}
}

func (m *Manager) saveCheckpoint(ctx context.Context, logger *slog.Logger, jobID string, cp jobstore.Checkpoint) {
	if err := m.store.SaveCheckpoint(ctx, jobID, cp); err != nil {
		logging.WarnWithContext(logger, "persist checkpoint failed", "checkpoint_persist_failed",
			logging.Error(err),
			logging.Int("processed", cp.ProcessedCount),
			logging.String(logging.FieldErrorHint, "check job store access; progress since the last checkpoint may be repeated on restore"),
		)
		return
	}
	m.publish(events.Event{JobID: jobID, Kind: events.KindCheckpoint, Current: cp.ProcessedCount, Total: cp.Total})
}

// onStateChange mirrors pause and resume into the store. Terminal states
// are recorded by finish once the run has settled.
func (m *Manager) onStateChange(ctx context.Context, logger *slog.Logger, job *jobstore.Job, from, to batch.State, reason string) {
	switch to {
	case batch.StatePaused:
		applied, err := m.store.TransitionStatus(ctx, job.ID, jobstore.StatusRunning, jobstore.StatusPaused,
			jobstore.Extra{Message: reason})
		if err != nil {
			logging.WarnWithContext(logger, "record pause failed", "status_update_failed", logging.Error(err))
			return
		}
		if !applied {
			return
		}
		m.publish(stateEvent(job.ID, string(jobstore.StatusPaused), reason))
		m.notify(ctx, logger, notifications.EventJobPaused, notifications.Payload{
			"name":   job.Name,
			"reason": reason,
		})
	case batch.StateRunning:
		if from != batch.StatePaused {
			return
		}
		applied, err := m.store.TransitionStatus(ctx, job.ID, jobstore.StatusPaused, jobstore.StatusRunning, jobstore.Extra{})
		if err != nil {
			logging.WarnWithContext(logger, "record resume failed", "status_update_failed", logging.Error(err))
			return
		}
		if applied {
			m.publish(stateEvent(job.ID, string(jobstore.StatusRunning), reason))
		}
	}
}

// finish records the settled outcome of a run.
func (m *Manager) finish(ctx context.Context, logger *slog.Logger, r *run, outcome batch.Outcome, runErr error) {
	defer func() {
		m.mu.Lock()
		delete(m.runs, r.job.ID)
		m.mu.Unlock()
		close(r.done)
	}()

	close(r.quit)
	m.writeProgress(ctx, logger, r, true)

	if outcome.State == batch.StateError && errors.Is(runErr, context.Canceled) && !m.isRunning() {
		logger.Info("run interrupted by shutdown",
			logging.String(logging.FieldEventType, "job_interrupted"),
			logging.Int("processed", outcome.Processed),
			logging.Int("total", outcome.Total),
		)
		return
	}

	current, err := m.store.GetByID(ctx, r.job.ID)
	if err != nil {
		logging.ErrorWithContext(logger, "read job after run failed", "status_update_failed", logging.Error(err))
		return
	}
	from := current.Status

	switch outcome.State {
	case batch.StateCompleted:
		if from == jobstore.StatusPaused {
			if _, err := m.store.TransitionStatus(ctx, current.ID, jobstore.StatusPaused, jobstore.StatusRunning, jobstore.Extra{}); err != nil {
				logging.WarnWithContext(logger, "clear pause before completion failed", "status_update_failed", logging.Error(err))
			}
			from = jobstore.StatusRunning
		}
		m.complete(ctx, logger, current, from, outcome)
	case batch.StateStopped:
		if from == jobstore.StatusStopped {
			break
		}
		applied, err := m.store.TransitionStatus(ctx, current.ID, from, jobstore.StatusStopped,
			jobstore.Extra{Message: "stopped by operator"})
		if err != nil {
			logging.WarnWithContext(logger, "record stop failed", "status_update_failed", logging.Error(err))
			return
		}
		if applied {
			m.publish(stateEvent(current.ID, string(jobstore.StatusStopped), "stopped by operator"))
		}
	default:
		cause := runErr
		if cause == nil {
			cause = errors.New("run ended in error")
		}
		m.failJob(ctx, logger, current, from, cause)
	}
}

// complete builds the export bundle and finalizes the job from status from.
func (m *Manager) complete(ctx context.Context, logger *slog.Logger, job *jobstore.Job, from jobstore.Status, outcome batch.Outcome) {
	bundle, err := m.build(ctx, report.BuildInput{
		Job:        job,
		Results:    outcome.Results,
		Errors:     outcome.Errors,
		ExportDir:  m.cfg.Paths.ExportDir,
		DerivedDir: m.cfg.DerivedDir(job.ID),
		Logger:     m.logger,
	})
	if err != nil {
		if !errors.Is(err, services.ErrAggregation) {
			err = services.Wrap(services.ErrAggregation, "workflow", "build report", "", err)
		}
		m.failJob(ctx, logger, job, from, err)
		return
	}

	final := jobstore.FinalResults{Results: outcome.Results, Errors: outcome.Errors}
	applied, err := m.store.CompleteJob(ctx, job.ID, from, final, bundle.Dir)
	if err != nil {
		m.failJob(ctx, logger, job, from, services.Wrap(services.ErrAggregation, "workflow", "complete job", "", err))
		return
	}
	if !applied {
		logger.Info("job changed status before completion; leaving it",
			logging.String(logging.FieldEventType, "aggregation_skipped"),
		)
		return
	}

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Int("succeeded", len(outcome.Results)),
		logging.Int("failed", len(outcome.Errors)),
		logging.String("export_dir", bundle.Dir),
	)
	m.publish(stateEvent(job.ID, string(jobstore.StatusCompleted), "all items settled"))
	m.notify(ctx, logger, notifications.EventJobCompleted, notifications.Payload{
		"name":      job.Name,
		"jobID":     job.ID,
		"succeeded": len(outcome.Results),
		"failed":    len(outcome.Errors),
		"duration":  time.Since(job.CreatedAt),
		"exportDir": bundle.Dir,
	})
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *jobstore.Job, from jobstore.Status, cause error) {
	hint := "fix the cause, then restore the job from its checkpoint"
	if job.Mode == jobstore.ModeDispatched {
		hint = "fix the cause, then run: docbatch aggregate --retrigger " + job.ID
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, services.Kind(cause)),
		logging.String(logging.FieldErrorHint, hint),
	)
	applied, err := m.store.TransitionStatus(ctx, job.ID, from, jobstore.StatusError, jobstore.Extra{Message: cause.Error()})
	if err != nil {
		logging.WarnWithContext(logger, "record failure failed", "status_update_failed", logging.Error(err))
		return
	}
	if !applied {
		return
	}
	m.publish(stateEvent(job.ID, string(jobstore.StatusError), cause.Error()))
	m.notify(ctx, logger, notifications.EventJobFailed, notifications.Payload{
		"name":   job.Name,
		"jobID":  job.ID,
		"reason": cause,
	})
}
