package testsupport

import (
	"context"
	"testing"

	"docbatch/internal/config"
	"docbatch/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending job with the given name and total.
func NewJob(t testing.TB, store jobstore.Repository, name string, total int, mode jobstore.Mode) *jobstore.Job {
	t.Helper()

	job, err := store.Create(context.Background(), &jobstore.Job{
		Name:  name,
		Total: total,
		Mode:  mode,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
