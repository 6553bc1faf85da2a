package batch

import "time"

// RetryPolicy governs per-item retries and the burst auto-pause.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// BurstThreshold is the number of consecutive failures, across all items,
	// that auto-pauses the run. Zero disables the auto-pause.
	BurstThreshold int
}

// DefaultRetryPolicy returns 3 retries, 1s base, 30s cap, and a burst threshold of 5.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		BurstThreshold: 5,
	}
}

// Backoff returns BaseDelay * 2^attempt capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// CanRetry reports whether an item that has failed attempts times may try again.
func (p RetryPolicy) CanRetry(attempts int) bool {
	return attempts <= p.MaxRetries
}

// ShouldPause reports whether consecutive failures have reached the burst threshold.
func (p RetryPolicy) ShouldPause(consecutive int) bool {
	return p.BurstThreshold > 0 && consecutive >= p.BurstThreshold
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	if p.BurstThreshold < 0 {
		p.BurstThreshold = 0
	}
	return p
}
