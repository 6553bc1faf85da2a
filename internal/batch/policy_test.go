package batch_test

import (
	"testing"
	"time"

	"docbatch/internal/batch"
	"docbatch/internal/testsupport"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := batch.RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Backoff(tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}

	if got := (batch.RetryPolicy{}).Backoff(3); got != 0 {
		t.Fatalf("zero base backoff = %s, want 0", got)
	}
}

func TestRetryPolicyLimits(t *testing.T) {
	policy := batch.DefaultRetryPolicy()
	if !policy.CanRetry(3) {
		t.Fatal("expected retry after third failure")
	}
	if policy.CanRetry(4) {
		t.Fatal("expected retries exhausted after fourth failure")
	}
	if policy.ShouldPause(4) {
		t.Fatal("did not expect pause below threshold")
	}
	if !policy.ShouldPause(5) {
		t.Fatal("expected pause at threshold")
	}
	if (batch.RetryPolicy{}).ShouldPause(100) {
		t.Fatal("zero threshold must disable auto-pause")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(7))
	cfg.Batch.BurstThreshold = 2
	p := batch.PolicyFromConfig(cfg)
	if p.MaxRetries != 7 || p.BurstThreshold != 2 {
		t.Fatalf("policy = %+v, want retries 7 threshold 2", p)
	}
	if p.BaseDelay != cfg.BackoffBase() || p.MaxDelay != cfg.BackoffCap() {
		t.Fatalf("delays = %v/%v, want config values", p.BaseDelay, p.MaxDelay)
	}
	if got := batch.PolicyFromConfig(nil); got != batch.DefaultRetryPolicy() {
		t.Fatalf("nil config policy = %+v, want default", got)
	}
}
