package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"docbatch/internal/api"
	"docbatch/internal/batch"
	"docbatch/internal/config"
	"docbatch/internal/events"
	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/monitor"
	"docbatch/internal/notifications"
	"docbatch/internal/preflight"
	"docbatch/internal/remote"
	"docbatch/internal/workflow"
)

const eventBufferSize = 4096

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     jobstore.Repository
	extractor extract.Extractor
	notifier  notifications.Service
	hub       *events.Hub
	queue     *remote.LocalQueue
	workflow  *workflow.Manager
	monitor   *monitor.Monitor
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store jobstore.Repository, extractor extract.Extractor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || extractor == nil {
		return nil, errors.New("daemon requires config, store, and extractor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)
	hub := events.NewHub(eventBufferSize)

	workers := cfg.Batch.Concurrency
	if workers < 1 {
		workers = 1
	}
	worker := remote.NewWorker(store, extractor,
		remote.WithPolicy(batch.PolicyFromConfig(cfg)),
		remote.WithLogger(logger),
	)
	queue := remote.NewLocalQueue(worker, workers, workers*4, logger)

	wf := workflow.NewManager(cfg, store, extractor,
		workflow.WithQueue(queue),
		workflow.WithHub(hub),
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
	)
	monOpts := append(monitor.ConfigOptions(cfg), monitor.WithLogger(logger), monitor.WithNotifier(notifier))
	mon := monitor.New(store, nil, monOpts...)

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		extractor: extractor,
		notifier:  notifier,
		hub:       hub,
		queue:     queue,
		workflow:  wf,
		monitor:   mon,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the queue, workflow manager,
// completion monitor and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docbatch daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	fail := func(err error) error {
		d.teardown()
		return err
	}
	if err := d.queue.Start(d.ctx); err != nil {
		return fail(fmt.Errorf("start dispatch queue: %w", err))
	}
	if err := d.workflow.Start(d.ctx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if d.cfg.Monitor.Enabled {
		if err := d.monitor.Start(d.ctx); err != nil {
			return fail(fmt.Errorf("start completion monitor: %w", err))
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		return fail(err)
	}

	d.running.Store(true)
	d.logger.Info("docbatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String("backend", extract.BackendName(d.extractor)),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.teardown()
	d.running.Store(false)
	d.logger.Info("docbatch daemon stopped")
}

func (d *Daemon) teardown() {
	d.api.stop()
	d.monitor.Stop()
	d.workflow.Shutdown()
	d.queue.Close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StoreDriver:    d.cfg.Store.Driver,
		LockFilePath:   d.lockPath,
		Backend:        extract.BackendName(d.extractor),
		MonitorEnabled: d.cfg.Monitor.Enabled,
		LiveJobs:       d.workflow.Live(),
		JobCounts:      map[string]int{},
		Checks:         api.FromCheckResults(preflight.RunAll(ctx, d.cfg, d.extractor)),
	}
	if status.StoreDriver == "" || status.StoreDriver == "sqlite" {
		status.DatabasePath = d.cfg.DatabasePath()
	}
	jobs, err := d.store.List(ctx)
	if err != nil {
		d.logger.Warn("list jobs for status failed", logging.Error(err))
		return status
	}
	for _, job := range jobs {
		status.JobCounts[string(job.Status)]++
	}
	return status
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
