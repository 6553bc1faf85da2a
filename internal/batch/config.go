package batch

import (
	"math"

	"golang.org/x/time/rate"

	"docbatch/internal/config"
)

// PolicyFromConfig builds the retry policy from the [batch] section.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	if cfg == nil {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		MaxRetries:     cfg.Batch.MaxRetries,
		BaseDelay:      cfg.BackoffBase(),
		MaxDelay:       cfg.BackoffCap(),
		BurstThreshold: cfg.Batch.BurstThreshold,
	}
}

// ConfigOptions derives controller options from configuration. Callers
// append job-specific options after these.
func ConfigOptions(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	opts := []Option{
		WithConcurrency(cfg.Batch.Concurrency),
		WithMaxConcurrency(cfg.Batch.MaxConcurrency),
		WithRetryPolicy(PolicyFromConfig(cfg)),
		WithCheckpointInterval(cfg.CheckpointInterval()),
		WithCheckpointEvery(cfg.Batch.CheckpointEveryItems),
	}
	if perSecond := cfg.Batch.RateLimitPerSecond; perSecond > 0 {
		opts = append(opts, WithRateLimit(rate.Limit(perSecond), int(math.Ceil(perSecond))))
	}
	return opts
}
