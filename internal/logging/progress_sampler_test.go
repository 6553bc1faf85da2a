package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSampler_NilSampler(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(5, 10) {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset()
}

func TestProgressSampler_Buckets(t *testing.T) {
	s := NewProgressSampler(10)
	logged := 0
	for i := 1; i <= 1000; i++ {
		if s.ShouldLog(i, 1000) {
			logged++
		}
	}
	// one line per 10% bucket plus the final item
	if logged != 11 {
		t.Fatalf("logged %d progress lines, want 11", logged)
	}
}

func TestProgressSampler_FinalAlwaysLogs(t *testing.T) {
	s := NewProgressSampler(50)
	s.ShouldLog(99, 100)
	if !s.ShouldLog(100, 100) {
		t.Fatal("final item should log")
	}
	if s.ShouldLog(100, 100) {
		t.Fatal("repeated final item should not log twice")
	}
}

func TestProgressSampler_Reset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, 100)
	if s.ShouldLog(50, 100) {
		t.Fatal("same bucket should not log again")
	}
	s.Reset()
	if !s.ShouldLog(50, 100) {
		t.Fatal("after reset the bucket should log again")
	}
}
