package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"docbatch/internal/api"
	"docbatch/internal/config"
	"docbatch/internal/daemon"
	"docbatch/internal/events"
	"docbatch/internal/extract"
	"docbatch/internal/services"
	"docbatch/internal/testsupport"
)

const token = "s3cret"

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *api.Client) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, extract.NewTextExtractor(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, api.NewClient(d.Addr(), token)
}

func testConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token), testsupport.WithConcurrency(2))
	cfg.Monitor.Enabled = false
	return cfg
}

func waitForStatus(t *testing.T, client *api.Client, id, want string) *api.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := client.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestAPIRequiresToken(t *testing.T) {
	d, client := startDaemon(t, testConfig(t))

	if _, err := api.NewClient(d.Addr(), "").Status(context.Background()); !api.IsUnauthorized(err) {
		t.Fatalf("anonymous status err = %v, want unauthorized", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Running || status.Backend != "text" || len(status.Checks) < 2 {
		t.Fatalf("status = %+v", status)
	}
}

func TestSubmitAndWatchInProcessJob(t *testing.T) {
	cfg := testConfig(t)
	_, client := startDaemon(t, cfg)
	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{
		"a.txt": "first document",
		"b.txt": "second document",
	})

	ctx := context.Background()
	job, err := client.Submit(ctx, api.SubmitRequest{SourceRoot: root, Name: "pair"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Progress.Total != 2 || job.Name != "pair" {
		t.Fatalf("job = %+v", job)
	}

	watchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var last events.Event
	if err := client.Watch(watchCtx, job.ID, func(evt events.Event) error {
		last = evt
		return nil
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if !last.Terminal() || last.State != "completed" {
		t.Fatalf("last event = %+v, want completed", last)
	}

	done := waitForStatus(t, client, job.ID, "completed")
	if done.Progress.Succeeded != 2 || done.ExportDir == "" {
		t.Fatalf("completed job = %+v", done)
	}
	cp, err := client.Checkpoint(ctx, job.ID)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if cp.ProcessedCount != 2 {
		t.Fatalf("checkpoint processed = %d, want 2", cp.ProcessedCount)
	}

	jobs, err := client.ListJobs(ctx, "completed")
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	cfg := testConfig(t)
	_, client := startDaemon(t, cfg)
	ctx := context.Background()

	if _, err := client.GetJob(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing job err = %v, want not found", err)
	}
	_, err := client.Submit(ctx, api.SubmitRequest{SourceRoot: t.TempDir(), Mode: "sideways"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad mode err = %v, want 400 validation", err)
	}
	if _, err := client.ListJobs(ctx, "bogus"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("bad status filter err = %v, want validation", err)
	}

	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{"a.txt": "x"})
	job, err := client.Submit(ctx, api.SubmitRequest{SourceRoot: root})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStatus(t, client, job.ID, "completed")
	if err := client.Pause(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("pause completed err = %v, want validation", err)
	}
	if _, err := client.Aggregate(ctx, job.ID, false); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("aggregate in-process err = %v, want validation", err)
	}
	if _, err := client.Restore(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("restore completed err = %v, want validation", err)
	}
}

func TestDispatchedJobFinalizedOnDemand(t *testing.T) {
	cfg := testConfig(t)
	_, client := startDaemon(t, cfg)
	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{"a.txt": "one", "b.txt": "two", "c.txt": "three"})
	ctx := context.Background()

	job, err := client.Submit(ctx, api.SubmitRequest{SourceRoot: root, Mode: "dispatched"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.Status != "processing" || job.DispatchedCount != 3 {
		t.Fatalf("job = %+v, want processing with 3 dispatched", job)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Aggregate(ctx, "", false); err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		current, err := client.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if current.Status == "completed" {
			if current.AcknowledgedCount != 3 {
				t.Fatalf("acknowledged = %d, want 3", current.AcknowledgedCount)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dispatched job never completed")
}

func TestSecondDaemonRefusesToStart(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	second, err := daemon.New(cfg, store, extract.NewTextExtractor(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second daemon to fail acquiring the lock")
	}
}

func TestLogsEndpointFiltersByJob(t *testing.T) {
	cfg := testConfig(t)
	_, client := startDaemon(t, cfg)
	testsupport.WriteFiles(t, cfg.Paths.LogDir, map[string]string{
		daemon.LogFileName: "INFO started job_id=j1\nINFO other job_id=j2\nINFO done job_id=j1\n",
	})

	page, err := client.Logs(context.Background(), api.LogQuery{Offset: -1, Limit: 10, JobID: "j1"})
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if len(page.Lines) != 2 || page.Offset == 0 {
		t.Fatalf("page = %+v, want two j1 lines", page)
	}

	next, err := client.Logs(context.Background(), api.LogQuery{Offset: page.Offset})
	if err != nil {
		t.Fatalf("Logs from offset failed: %v", err)
	}
	if len(next.Lines) != 0 || next.Offset != page.Offset {
		t.Fatalf("next page = %+v, want empty at %d", next, page.Offset)
	}

	if _, err := client.Logs(context.Background(), api.LogQuery{Offset: 0, Limit: -1}); err != nil {
		t.Fatalf("limit is only sent when positive: %v", err)
	}
}
