package pgstore_test

import (
	"context"
	"os"
	"testing"

	"docbatch/internal/jobstore"
	"docbatch/internal/jobstore/pgstore"
	"docbatch/internal/testsupport"
)

func openTestStore(t *testing.T) *pgstore.Store {
	t.Helper()

	dsn := os.Getenv("DOCBATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCBATCH_TEST_POSTGRES_DSN not set")
	}
	cfg := testsupport.NewConfig(t)
	cfg.Store.Driver = "postgres"
	cfg.Store.PostgresDSN = dsn
	store, err := pgstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("pgstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "pg-lifecycle", 2, jobstore.ModeDispatched)
	if err := store.UpdateStatus(ctx, job.ID, jobstore.StatusProcessing, jobstore.Extra{}); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.RecordDispatched(ctx, job.ID, 2); err != nil {
		t.Fatalf("RecordDispatched failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		outcome := jobstore.Outcome{Result: &jobstore.Result{ItemID: id, Content: id}}
		if err := store.AppendOutcome(ctx, job.ID, outcome); err != nil {
			t.Fatalf("AppendOutcome failed: %v", err)
		}
		if err := store.RecordAcknowledged(ctx, job.ID, 0); err != nil {
			t.Fatalf("RecordAcknowledged failed: %v", err)
		}
	}

	ready, err := store.FindReadyForAggregation(ctx)
	if err != nil {
		t.Fatalf("FindReadyForAggregation failed: %v", err)
	}
	found := false
	for _, candidate := range ready {
		if candidate.ID == job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("job %s not reported ready", job.ID)
	}

	cp, err := store.GetCheckpoint(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	final := jobstore.FinalResults{Results: cp.Results}
	applied, err := store.CompleteJob(ctx, job.ID, jobstore.StatusProcessing, final, "")
	if err != nil || !applied {
		t.Fatalf("CompleteJob: applied=%v err=%v", applied, err)
	}
	applied, err = store.CompleteJob(ctx, job.ID, jobstore.StatusProcessing, final, "")
	if err != nil || applied {
		t.Fatalf("second CompleteJob: applied=%v err=%v", applied, err)
	}

	results, err := store.GetResults(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if len(results.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(results.Results))
	}
	if _, err := store.Remove(ctx, job.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
}
