package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"docbatch/internal/jobstore"
)

const (
	// DefaultMaxConcurrency bounds WithConcurrency unless WithMaxConcurrency raises it.
	DefaultMaxConcurrency = 64
	// HardConcurrencyCeiling bounds WithMaxConcurrency itself.
	HardConcurrencyCeiling = 256

	defaultCheckpointInterval = 5 * time.Second
	defaultCheckpointEvery    = 25
)

// ProgressFunc is called after each item settles, while the controller's
// lock is held. It must not call back into the controller.
type ProgressFunc func(current, total int, itemName string)

// CheckpointFunc receives a deep copy of the run's accounting.
type CheckpointFunc func(cp jobstore.Checkpoint)

// StateFunc is called on every lifecycle transition.
type StateFunc func(from, to State, reason string)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Controller.
type Option func(*Controller)

// WithConcurrency sets the worker count, clamped to [1, max concurrency].
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		c.concurrency = n
	}
}

// WithMaxConcurrency raises or lowers the clamp applied to WithConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(c *Controller) {
		c.maxConcurrency = n
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithProgress registers the per-item progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Controller) {
		c.onProgress = fn
	}
}

// WithCheckpoint registers the checkpoint callback.
func WithCheckpoint(fn CheckpointFunc) Option {
	return func(c *Controller) {
		c.onCheckpoint = fn
	}
}

// WithStateChange registers the lifecycle callback.
func WithStateChange(fn StateFunc) Option {
	return func(c *Controller) {
		c.onState = fn
	}
}

// WithCheckpointInterval sets the maximum time between checkpoints. Zero disables the time trigger.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.checkpointInterval = d
	}
}

// WithCheckpointEvery sets the maximum settled items between checkpoints. Zero disables the count trigger.
func WithCheckpointEvery(n int) Option {
	return func(c *Controller) {
		c.checkpointEvery = n
	}
}

// WithRateLimit caps extraction attempts per second across all workers.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Controller) {
		if limit <= 0 || limit == rate.Inf {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the backoff sleep, mainly for tests.
func WithClock(sleep SleepFunc) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func clampConcurrency(n, maxConcurrency int) int {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if maxConcurrency > HardConcurrencyCeiling {
		maxConcurrency = HardConcurrencyCeiling
	}
	if n < 1 {
		return 1
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
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
