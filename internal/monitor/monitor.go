package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"docbatch/internal/config"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/notifications"
	"docbatch/internal/report"
	"docbatch/internal/services"
)

// BuildFunc produces the export bundle for a finalized job.
type BuildFunc func(ctx context.Context, in report.BuildInput) (report.Bundle, error)

// Decision is what one poll did with one ready job.
type Decision string

const (
	DecisionFinalized  Decision = "finalized"
	DecisionIncomplete Decision = "incomplete"
	DecisionSuperseded Decision = "superseded"
	DecisionFailed     Decision = "failed"
)

// Summary counts the decisions of one poll.
type Summary struct {
	Ready      int
	Finalized  int
	Skipped    int
	Failed     int
	Duplicates int
}

// Monitor reconciles dispatched jobs through the job store.
type Monitor struct {
	store       jobstore.Repository
	build       BuildFunc
	notifier    notifications.Service
	logger      *slog.Logger
	schedule    string
	settleDelay time.Duration
	sleep       SleepFunc
	exportDir   string
	derivedDir  func(jobID string) string

	mu      sync.Mutex
	cron    *cron.Cron
	polling sync.Mutex
}

// New builds a monitor. A nil build uses report.Build.
func New(store jobstore.Repository, build BuildFunc, opts ...Option) *Monitor {
	if build == nil {
		build = report.Build
	}
	m := &Monitor{
		store:       store,
		build:       build,
		notifier:    notifications.NewService(nil),
		logger:      logging.NewNop(),
		schedule:    defaultSchedule,
		settleDelay: defaultSettleDelay,
		sleep:       timerSleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "monitor")
	return m
}

// Start schedules RunOnce on the configured cron schedule. Overlapping polls
// are skipped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return errors.New("monitor already started")
	}
	c := cron.New(
		cron.WithParser(config.ScheduleParser()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(m.schedule, func() {
		if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "completion poll failed", "poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job store connectivity"),
			)
		}
	}); err != nil {
		return services.Wrap(services.ErrConfiguration, "monitor", "schedule", m.schedule, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("completion monitor started", logging.String("schedule", m.schedule))
	return nil
}

// Stop halts scheduling and waits for an in-flight poll to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.logger.Info("completion monitor stopped")
}

// RunOnce performs one poll. Per-job failures are logged and counted; the
// returned error reports only a failed store query.
func (m *Monitor) RunOnce(ctx context.Context) (Summary, error) {
	m.polling.Lock()
	defer m.polling.Unlock()

	var summary Summary
	ready, err := m.store.FindReadyForAggregation(ctx)
	if err != nil {
		return summary, fmt.Errorf("find ready jobs: %w", err)
	}
	summary.Ready = len(ready)
	for _, job := range ready {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		decision, dups := m.Finalize(ctx, job)
		summary.Duplicates += dups
		switch decision {
		case DecisionFinalized:
			summary.Finalized++
		case DecisionFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}
	if summary.Ready > 0 {
		m.logger.Debug("completion poll finished",
			logging.Int("ready", summary.Ready),
			logging.Int("finalized", summary.Finalized),
			logging.Int("skipped", summary.Skipped),
			logging.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

// Finalize runs the completeness checks and finalization for one ready job.
func (m *Monitor) Finalize(ctx context.Context, job *jobstore.Job) (Decision, int) {
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)

	cp, err := m.store.GetCheckpoint(ctx, job.ID)
	if err != nil {
		logging.WarnWithContext(logger, "read checkpoint failed", "aggregation_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "will retry next poll"),
		)
		return DecisionIncomplete, 0
	}
	if decision, ok := m.checkComplete(ctx, logger, job, cp); !ok {
		return decision, 0
	}

	if err := m.sleep(ctx, m.settleDelay); err != nil {
		return DecisionIncomplete, 0
	}

	current, err := m.store.GetByID(ctx, job.ID)
	if err != nil {
		logging.WarnWithContext(logger, "re-read job failed", "aggregation_skipped", logging.Error(err))
		return DecisionIncomplete, 0
	}
	if current.Status != jobstore.StatusProcessing {
		logger.Info("job no longer processing; skipping",
			logging.String(logging.FieldEventType, "aggregation_skipped"),
			logging.String("status", string(current.Status)),
		)
		return DecisionSuperseded, 0
	}
	cp, err = m.store.GetCheckpoint(ctx, job.ID)
	if err != nil {
		logging.WarnWithContext(logger, "re-read checkpoint failed", "aggregation_skipped", logging.Error(err))
		return DecisionIncomplete, 0
	}
	if decision, ok := m.checkComplete(ctx, logger, current, cp); !ok {
		return decision, 0
	}

	results, dupResults := DedupResults(cp.Results)
	errs, dupErrors := DedupErrors(cp.Errors, results)
	dups := dupResults + dupErrors
	if dups > 0 {
		logger.Info("removed duplicate deliveries",
			logging.String(logging.FieldEventType, "duplicate_removed"),
			logging.Int("duplicates", dups),
			logging.Int("duplicate_results", dupResults),
			logging.Int("duplicate_errors", dupErrors),
		)
	}

	in := report.BuildInput{
		Job:       current,
		Results:   results,
		Errors:    errs,
		ExportDir: m.exportDir,
		Logger:    m.logger,
	}
	if m.derivedDir != nil {
		in.DerivedDir = m.derivedDir(job.ID)
	}
	bundle, err := m.build(ctx, in)
	if err != nil {
		if !errors.Is(err, services.ErrAggregation) {
			err = services.Wrap(services.ErrAggregation, "monitor", "build report", "", err)
		}
		m.fail(ctx, logger, current, err)
		return DecisionFailed, dups
	}

	final := jobstore.FinalResults{Results: results, Errors: errs}
	applied, err := m.store.CompleteJob(ctx, job.ID, jobstore.StatusProcessing, final, bundle.Dir)
	if err != nil {
		m.fail(ctx, logger, current, services.Wrap(services.ErrAggregation, "monitor", "complete job", "", err))
		return DecisionFailed, dups
	}
	if !applied {
		logger.Info("job finalized elsewhere",
			logging.String(logging.FieldEventType, "aggregation_skipped"),
		)
		return DecisionSuperseded, dups
	}

	logger.Info("job finalized",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Int("succeeded", len(results)),
		logging.Int("failed", len(errs)),
		logging.String("export_dir", bundle.Dir),
	)
	m.publish(ctx, logger, notifications.EventJobCompleted, notifications.Payload{
		"name":      current.Name,
		"jobID":     current.ID,
		"succeeded": len(results),
		"failed":    len(errs),
		"duration":  time.Since(current.CreatedAt),
		"exportDir": bundle.Dir,
	})
	return DecisionFinalized, dups
}

// checkComplete compares distinct outcome ids against the dispatched count.
// Fewer means late writes are still arriving; more is a data-consistency
// failure that moves the job to error.
func (m *Monitor) checkComplete(ctx context.Context, logger *slog.Logger, job *jobstore.Job, cp jobstore.Checkpoint) (Decision, bool) {
	saved := distinctItems(cp)
	switch {
	case saved < job.DispatchedCount:
		logger.Info("checkpoint incomplete; will retry next poll",
			logging.String(logging.FieldEventType, "aggregation_skipped"),
			logging.Int("saved", saved),
			logging.Int("dispatched", job.DispatchedCount),
			logging.Int("acknowledged", job.AcknowledgedCount),
		)
		return DecisionIncomplete, false
	case saved > job.DispatchedCount:
		err := services.Wrap(services.ErrDataConsistency, "monitor", "verify checkpoint",
			fmt.Sprintf("checkpoint holds %d items but only %d were dispatched", saved, job.DispatchedCount), nil)
		m.fail(ctx, logger, job, err)
		return DecisionFailed, false
	default:
		return "", true
	}
}

func (m *Monitor) fail(ctx context.Context, logger *slog.Logger, job *jobstore.Job, cause error) {
	logging.ErrorWithContext(logger, "job finalization failed", "job_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, services.Kind(cause)),
		logging.String(logging.FieldErrorHint, "fix the cause, then run: docbatch aggregate --retrigger "+job.ID),
	)
	applied, err := m.store.TransitionStatus(ctx, job.ID, jobstore.StatusProcessing, jobstore.StatusError,
		jobstore.Extra{Message: cause.Error()})
	if err != nil {
		logging.WarnWithContext(logger, "record finalization failure", "status_update_failed", logging.Error(err))
		return
	}
	if !applied {
		return
	}
	m.publish(ctx, logger, notifications.EventJobFailed, notifications.Payload{
		"name":   job.Name,
		"jobID":  job.ID,
		"reason": cause,
	})
}

func (m *Monitor) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"),
		)
	}
}

// Retrigger moves a job whose finalization failed back to processing so
// the next poll retries it.
func (m *Monitor) Retrigger(ctx context.Context, jobID string) error {
	applied, err := m.store.TransitionStatus(ctx, jobID, jobstore.StatusError, jobstore.StatusProcessing, jobstore.Extra{})
	if err != nil {
		return err
	}
	if !applied {
		return services.Wrap(services.ErrValidation, "monitor", "retrigger", "job "+jobID+" is not in error state", nil)
	}
	m.logger.Info("finalization re-triggered",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "aggregation_retriggered"),
	)
	return nil
}
