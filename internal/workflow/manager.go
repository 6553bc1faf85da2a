package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"docbatch/internal/batch"
	"docbatch/internal/config"
	"docbatch/internal/events"
	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/monitor"
	"docbatch/internal/notifications"
	"docbatch/internal/remote"
	"docbatch/internal/report"
)

// Manager coordinates job submission and the live controllers of running jobs.
type Manager struct {
	cfg       *config.Config
	store     jobstore.Repository
	extractor extract.Extractor
	queue     remote.Queue
	hub       *events.Hub
	notifier  notifications.Service
	logger    *slog.Logger
	runLogger *slog.Logger
	build     monitor.BuildFunc
	batchOpts []batch.Option

	mu      sync.Mutex
	runs    map[string]*run
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueue sets the queue used by dispatched jobs.
func WithQueue(q remote.Queue) Option {
	return func(m *Manager) {
		m.queue = q
	}
}

// WithHub sets the progress event hub.
func WithHub(hub *events.Hub) Option {
	return func(m *Manager) {
		m.hub = hub
	}
}

// WithNotifier sets the notification target for pause, completion and failure.
func WithNotifier(svc notifications.Service) Option {
	return func(m *Manager) {
		if svc != nil {
			m.notifier = svc
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReportBuilder replaces report.Build for in-process finalization.
func WithReportBuilder(build monitor.BuildFunc) Option {
	return func(m *Manager) {
		if build != nil {
			m.build = build
		}
	}
}

// WithBatchOptions appends controller options after the configured ones,
// mainly so tests can inject a clock.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(m *Manager) {
		m.batchOpts = append(m.batchOpts, opts...)
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store jobstore.Repository, extractor extract.Extractor, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		notifier:  notifications.NewService(cfg),
		logger:    logging.NewNop(),
		build:     report.Build,
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runLogger = m.logger
	m.logger = logging.NewComponentLogger(m.logger, "workflow-manager")
	return m
}

// Start makes the manager accept work and pauses jobs interrupted by a
// previous shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.baseCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	reset, err := m.store.ResetInterrupted(ctx)
	if err != nil {
		m.logger.Warn("reset interrupted jobs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "reset_interrupted_failed"),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
	} else if reset > 0 {
		m.logger.Info("paused interrupted jobs",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "jobs_interrupted"),
		)
	}
	return nil
}

// Shutdown cancels every live run and waits for them to settle. Their jobs
// stay running in the store until the next Start pauses them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Live returns the ids of jobs with an active controller.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) lookup(id string) *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

func (m *Manager) publish(evt events.Event) {
	if m.hub != nil {
		m.hub.Publish(evt)
	}
}

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification")
			return
		}
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"),
		)
	}
}
