package monitor

import (
	"context"
	"log/slog"
	"time"

	"docbatch/internal/config"
	"docbatch/internal/notifications"
)

const (
	defaultSchedule    = "@every 10s"
	defaultSettleDelay = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier sets the notification target for completion and failure.
func WithNotifier(svc notifications.Service) Option {
	return func(m *Monitor) {
		if svc != nil {
			m.notifier = svc
		}
	}
}

// WithSchedule sets the cron schedule used by Start.
func WithSchedule(expr string) Option {
	return func(m *Monitor) {
		if expr != "" {
			m.schedule = expr
		}
	}
}

// WithSettleDelay sets the wait between the first completeness check and the re-read.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.settleDelay = d
		}
	}
}

// WithSleep replaces the settle-delay sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// WithExportDir sets the root under which bundles are written.
func WithExportDir(dir string) Option {
	return func(m *Monitor) {
		m.exportDir = dir
	}
}

// WithDerivedDir maps a job id to its derived-artifact directory.
func WithDerivedDir(fn func(jobID string) string) Option {
	return func(m *Monitor) {
		m.derivedDir = fn
	}
}

// ConfigOptions derives options from configuration.
func ConfigOptions(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithSchedule(cfg.Monitor.Schedule),
		WithSettleDelay(cfg.SettleDelay()),
		WithExportDir(cfg.Paths.ExportDir),
		WithDerivedDir(cfg.DerivedDir),
	}
}

func timerSleep(ctx context.Context, d time.Duration) error {
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
