package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"docbatch/internal/batch"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/preflight"
	"docbatch/internal/remote"
	"docbatch/internal/services"
	"docbatch/internal/source"
)

// SubmitRequest describes a new job. Zero values fall back to configuration.
type SubmitRequest struct {
	Name        string
	SourceRoot  string
	Recursive   *bool
	Concurrency int
	MaxRetries  *int
	Mode        jobstore.Mode
}

// Submit enumerates the request's source, records the job and starts it in
// the requested mode. The returned job reflects the status after launch.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*jobstore.Job, error) {
	if !m.isRunning() {
		return nil, services.Wrap(services.ErrSystemic, "workflow", "submit", "workflow manager is not running", nil)
	}
	root := strings.TrimSpace(req.SourceRoot)
	if root == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "source root is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "resolve source root", err)
	}
	if err := preflight.CheckSource(abs); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = jobstore.ModeInProcess
	}
	if mode != jobstore.ModeInProcess && mode != jobstore.ModeDispatched {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", fmt.Sprintf("unknown mode %q", mode), nil)
	}
	if mode == jobstore.ModeDispatched && m.queue == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "submit", "no dispatch queue configured", nil)
	}

	recursive := m.cfg.Source.Recursive
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	maxRetries := m.cfg.Batch.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = m.cfg.Batch.Concurrency
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = filepath.Base(abs)
	}

	items, err := source.Walk(ctx, m.sourceOptions(abs, recursive, nil))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "enumerate items", abs, err)
	}

	job, err := m.store.Create(ctx, &jobstore.Job{
		Name:        name,
		Mode:        mode,
		SourceRoot:  abs,
		Recursive:   recursive,
		Concurrency: concurrency,
		MaxRetries:  maxRetries,
		Total:       len(items),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), m.logger)
	logger.Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String("name", name),
		logging.String("mode", string(mode)),
		logging.String("source_root", abs),
		logging.Int("items", len(items)),
	)

	if mode == jobstore.ModeDispatched {
		err = m.dispatch(ctx, job, items)
	} else {
		err = m.launch(ctx, job, batch.FromSource(items), nil)
	}
	if err != nil {
		// dispatch may already have moved the job to processing.
		m.failJob(context.WithoutCancel(ctx), logger, job, job.Status, err)
		return nil, err
	}
	return m.store.GetByID(ctx, job.ID)
}

func (m *Manager) sourceOptions(root string, recursive bool, exclude map[string]struct{}) source.Options {
	return source.Options{
		Root:       root,
		Recursive:  recursive,
		Extensions: m.cfg.Source.Extensions,
		SkipHidden: m.cfg.Source.SkipHidden,
		Exclude:    exclude,
	}
}

// dispatch records the dispatched count and hands items to the queue in
// the background. The completion monitor finalizes the job.
func (m *Manager) dispatch(ctx context.Context, job *jobstore.Job, items []source.Item) error {
	applied, err := m.store.TransitionStatus(ctx, job.ID, jobstore.StatusPending, jobstore.StatusProcessing, jobstore.Extra{})
	if err != nil {
		return err
	}
	if !applied {
		return services.Wrap(services.ErrValidation, "workflow", "dispatch", "job "+job.ID+" is no longer pending", nil)
	}
	job.Status = jobstore.StatusProcessing
	m.publish(stateEvent(job.ID, string(jobstore.StatusProcessing), "dispatched"))

	m.mu.Lock()
	baseCtx := m.baseCtx
	m.wg.Add(1)
	m.mu.Unlock()

	runCtx := services.WithJobID(baseCtx, job.ID)
	logger := logging.WithContext(runCtx, m.logger)
	if len(items) == 0 {
		go func() {
			defer m.wg.Done()
			m.complete(context.WithoutCancel(runCtx), logger, job, jobstore.StatusProcessing, batch.Outcome{})
		}()
		return nil
	}
	if err := m.store.RecordDispatched(ctx, job.ID, len(items)); err != nil {
		m.wg.Done()
		return err
	}
	go func() {
		defer m.wg.Done()
		m.enqueueAll(runCtx, logger, job, items, job.DispatchGeneration)
	}()
	return nil
}

// enqueueAll hands items to the queue tagged with generation. A queue
// failure fails the job, which can then be re-dispatched.
func (m *Manager) enqueueAll(ctx context.Context, logger *slog.Logger, job *jobstore.Job, items []source.Item, generation int) {
	for i, item := range items {
		if err := m.queue.Enqueue(ctx, remote.Task{JobID: job.ID, Generation: generation, Item: item}); err != nil {
			cause := services.Wrap(services.ErrSystemic, "workflow", "dispatch",
				fmt.Sprintf("enqueued %d of %d items", i, len(items)), err)
			m.failJob(context.WithoutCancel(ctx), logger, job, jobstore.StatusProcessing, cause)
			return
		}
	}
	logger.Info("items dispatched",
		logging.String(logging.FieldEventType, "job_dispatched"),
		logging.Int("items", len(items)),
		logging.Int("generation", generation),
	)
}
