package workflow

import (
	"context"
	"fmt"

	"docbatch/internal/batch"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/services"
	"docbatch/internal/source"
)

// JobState pairs the persisted job with the live controller state, when
// the job has one.
type JobState struct {
	Job   *jobstore.Job
	State string
	Live  bool
}

// Pause gates a running job. Workers finish their current attempt first.
func (m *Manager) Pause(ctx context.Context, id string) error {
	r := m.lookup(id)
	if r == nil {
		return m.notLive(ctx, id, "pause")
	}
	r.ctrl.Pause()
	return nil
}

// Resume releases a paused live job.
func (m *Manager) Resume(ctx context.Context, id string) error {
	r := m.lookup(id)
	if r == nil {
		job, err := m.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == jobstore.StatusPaused {
			return services.Wrap(services.ErrValidation, "workflow", "resume",
				"job "+id+" has no live run; restore it from its checkpoint instead", nil)
		}
		return m.notLive(ctx, id, "resume")
	}
	r.ctrl.Resume()
	return nil
}

// Stop cancels a live run, or marks an idle non-terminal job stopped.
func (m *Manager) Stop(ctx context.Context, id string) error {
	if r := m.lookup(id); r != nil {
		r.ctrl.Stop()
		return nil
	}
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case jobstore.StatusPending, jobstore.StatusPaused, jobstore.StatusProcessing:
	default:
		return services.Wrap(services.ErrValidation, "workflow", "stop",
			fmt.Sprintf("job %s is %s", id, job.Status), nil)
	}
	applied, err := m.store.TransitionStatus(ctx, id, job.Status, jobstore.StatusStopped,
		jobstore.Extra{Message: "stopped by operator"})
	if err != nil {
		return err
	}
	if !applied {
		return services.Wrap(services.ErrValidation, "workflow", "stop", "job "+id+" changed status concurrently", nil)
	}
	m.publish(stateEvent(id, string(jobstore.StatusStopped), "stopped by operator"))
	return nil
}

// State returns the job with its live controller state.
func (m *Manager) State(ctx context.Context, id string) (JobState, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return JobState{}, err
	}
	if r := m.lookup(id); r != nil {
		return JobState{Job: job, State: string(r.ctrl.State()), Live: true}, nil
	}
	return JobState{Job: job, State: string(job.Status)}, nil
}

// Checkpoint returns the live snapshot for a running job, else the last
// persisted one.
func (m *Manager) Checkpoint(ctx context.Context, id string) (jobstore.Checkpoint, error) {
	if r := m.lookup(id); r != nil {
		return r.ctrl.Checkpoint(), nil
	}
	return m.store.GetCheckpoint(ctx, id)
}

// Restore starts a new run for a paused, failed or stopped in-process job,
// seeded from its persisted checkpoint. Items already processed are skipped.
func (m *Manager) Restore(ctx context.Context, id string) (*jobstore.Job, error) {
	if m.lookup(id) != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "restore", "job "+id+" is already running", nil)
	}
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Mode == jobstore.ModeDispatched {
		return nil, services.Wrap(services.ErrValidation, "workflow", "restore",
			"dispatched jobs are finalized by the completion monitor; use aggregate --retrigger", nil)
	}
	switch job.Status {
	case jobstore.StatusPaused, jobstore.StatusError, jobstore.StatusStopped:
	default:
		return nil, services.Wrap(services.ErrValidation, "workflow", "restore",
			fmt.Sprintf("job %s is %s", id, job.Status), nil)
	}

	cp, err := m.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := source.Walk(ctx, m.sourceOptions(job.SourceRoot, job.Recursive, source.ExcludeSet(cp.ProcessedIDs)))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "enumerate items", job.SourceRoot, err)
	}
	logger := logging.WithContext(services.WithJobID(ctx, id), m.logger)
	if remaining := job.Total - cp.ProcessedCount; remaining >= 0 && len(items) > remaining {
		logging.WarnWithContext(logger, "source gained items since submission; ignoring extras", "source_changed",
			logging.Int("found", len(items)),
			logging.Int("remaining", remaining),
			logging.String(logging.FieldErrorHint, "submit a new job to process added files"),
		)
		items = items[:remaining]
	}
	if cp.Total == 0 {
		cp.Total = job.Total
	}

	logger.Info("restoring job",
		logging.String(logging.FieldEventType, "job_restored"),
		logging.Int("processed", cp.ProcessedCount),
		logging.Int("remaining", len(items)),
	)
	if err := m.launch(ctx, job, batch.FromSource(items), &cp); err != nil {
		return nil, err
	}
	return m.store.GetByID(ctx, id)
}

// Redispatch re-enqueues the items of a dispatched job that have no stored
// outcome. It accepts jobs in error or stopped, and processing jobs whose
// queued tasks were lost, for example across a daemon restart. Both
// counters restart from the stored outcomes under a new dispatch
// generation, so tasks still running from the old generation cannot
// over-acknowledge the job.
func (m *Manager) Redispatch(ctx context.Context, id string) (*jobstore.Job, int, error) {
	if !m.isRunning() {
		return nil, 0, services.Wrap(services.ErrSystemic, "workflow", "redispatch", "workflow manager is not running", nil)
	}
	if m.lookup(id) != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "workflow", "redispatch", "job "+id+" has a live in-process run", nil)
	}
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if job.Mode != jobstore.ModeDispatched {
		return nil, 0, services.Wrap(services.ErrValidation, "workflow", "redispatch",
			"job "+id+" runs in-process; use restore", nil)
	}
	if m.queue == nil {
		return nil, 0, services.Wrap(services.ErrConfiguration, "workflow", "redispatch", "no dispatch queue configured", nil)
	}
	switch job.Status {
	case jobstore.StatusError, jobstore.StatusStopped, jobstore.StatusProcessing:
	default:
		return nil, 0, services.Wrap(services.ErrValidation, "workflow", "redispatch",
			fmt.Sprintf("job %s is %s", id, job.Status), nil)
	}

	cp, err := m.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	items, err := source.Walk(ctx, m.sourceOptions(job.SourceRoot, job.Recursive, source.ExcludeSet(cp.ProcessedIDs)))
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "workflow", "enumerate items", job.SourceRoot, err)
	}
	succeeded, failed := cp.Distinct()
	saved := succeeded + failed
	logger := logging.WithContext(services.WithJobID(ctx, id), m.logger)
	if remaining := job.Total - saved; remaining >= 0 && len(items) > remaining {
		logging.WarnWithContext(logger, "source gained items since submission; ignoring extras", "source_changed",
			logging.Int("found", len(items)),
			logging.Int("remaining", remaining),
			logging.String(logging.FieldErrorHint, "submit a new job to process added files"),
		)
		items = items[:remaining]
	}

	generation, err := m.store.ResetDispatch(ctx, id, saved+len(items), saved)
	if err != nil {
		return nil, 0, err
	}
	from := job.Status
	if from != jobstore.StatusProcessing {
		applied, err := m.store.TransitionStatus(ctx, id, from, jobstore.StatusProcessing, jobstore.Extra{})
		if err != nil {
			return nil, 0, err
		}
		if !applied {
			return nil, 0, services.Wrap(services.ErrValidation, "workflow", "redispatch", "job "+id+" changed status concurrently", nil)
		}
		job.Status = jobstore.StatusProcessing
	}
	job.DispatchGeneration = generation
	m.publish(stateEvent(id, string(jobstore.StatusProcessing), "re-dispatched"))
	logger.Info("re-dispatching job",
		logging.String(logging.FieldEventType, "job_redispatched"),
		logging.String("from", string(from)),
		logging.Int("saved", saved),
		logging.Int("items", len(items)),
		logging.Int("generation", generation),
	)

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, 0, services.Wrap(services.ErrSystemic, "workflow", "redispatch", "workflow manager is not running", nil)
	}
	runCtx := services.WithJobID(m.baseCtx, id)
	m.wg.Add(1)
	m.mu.Unlock()

	runLogger := logging.WithContext(runCtx, m.logger)
	if saved+len(items) == 0 {
		go func() {
			defer m.wg.Done()
			m.complete(context.WithoutCancel(runCtx), runLogger, job, jobstore.StatusProcessing, batch.Outcome{})
		}()
	} else {
		go func() {
			defer m.wg.Done()
			m.enqueueAll(runCtx, runLogger, job, items, generation)
		}()
	}

	refreshed, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return refreshed, len(items), nil
}

// Wait blocks until the live run for id settles or ctx is done. It returns
// immediately when the job has no live run.
func (m *Manager) Wait(ctx context.Context, id string) error {
	r := m.lookup(id)
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) notLive(ctx context.Context, id, op string) error {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return services.Wrap(services.ErrValidation, "workflow", op,
		fmt.Sprintf("job %s has no live run (status %s)", id, job.Status), nil)
}
