package logging

import "sync"

// ProgressSampler suppresses repetitive per-item progress logs while still
// emitting whenever completion crosses a percentage bucket.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether progress at current/total should be logged. The
// final item always logs. Safe for concurrent use.
func (s *ProgressSampler) ShouldLog(current, total int) bool {
	if s == nil || total <= 0 {
		return true
	}
	percent := float64(current) / float64(total) * 100
	bucket := int(percent / s.bucketSize)
	if current >= total {
		bucket = int(100/s.bucketSize) + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state (e.g. when a job is restored).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastBucket = -1
	s.mu.Unlock()
}
