package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"docbatch/internal/api"
	"docbatch/internal/config"
	"docbatch/internal/events"
	"docbatch/internal/extract"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/storage"
	"docbatch/internal/workflow"
)

const runLogFileName = "docbatch-run.log"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		name        string
		concurrency int
		maxRetries  int
		noRecursive bool
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "run <source-dir>",
		Short: "Process a directory in the foreground without the daemon",
		Long: "Run walks the directory, extracts every item in this process and writes the\n" +
			"export bundle. Ctrl-C stops the job; its checkpoint can later be restored\n" +
			"by the daemon with `docbatch job restore`.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve source directory: %w", err)
			}
			req := workflow.SubmitRequest{
				Name:        strings.TrimSpace(name),
				SourceRoot:  root,
				Concurrency: concurrency,
				Mode:        jobstore.ModeInProcess,
			}
			if cmd.Flags().Changed("no-recursive") {
				recursive := !noRecursive
				req.Recursive = &recursive
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			return runForeground(cmd, cfg, req, quiet)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Job name (defaults to the directory name)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker count (defaults to batch.concurrency)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries per item (defaults to batch.max_retries)")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "Only scan the top-level directory")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final summary")
	return cmd
}

func runForeground(cmd *cobra.Command, cfg *config.Config, req workflow.SubmitRequest, quiet bool) error {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("docbatchd is running against this data directory; use `docbatch job submit` instead")
	}
	defer func() { _ = lock.Unlock() }()

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, runLogFileName)},
	})
	if err != nil {
		return err
	}

	// The store outlives the command context so Ctrl-C can still record
	// the stop and the final checkpoint.
	storeCtx := context.WithoutCancel(cmd.Context())
	store, err := storage.Open(storeCtx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor, err := extract.FromConfig(cfg)
	if err != nil {
		return err
	}

	hub := events.NewHub(1024)
	mgr := workflow.NewManager(cfg, store, extractor,
		workflow.WithHub(hub),
		workflow.WithLogger(logger),
	)
	if err := mgr.Start(storeCtx); err != nil {
		return err
	}
	defer mgr.Shutdown()

	job, err := mgr.Submit(storeCtx, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s: %d items from %s\n", job.ID, job.Total, job.SourceRoot)

	followCtx, stopFollow := context.WithCancel(storeCtx)
	defer stopFollow()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		followHub(followCtx, hub, job.ID, out, quiet)
	}()

	select {
	case <-cmd.Context().Done():
		fmt.Fprintln(out, "Stopping...")
		if err := mgr.Stop(storeCtx, job.ID); err != nil {
			return err
		}
		_ = mgr.Wait(storeCtx, job.ID)
	case <-waitDone(storeCtx, mgr, job.ID):
	}
	select {
	case <-printed:
	case <-time.After(2 * time.Second):
		stopFollow()
		<-printed
	}

	final, err := store.GetByID(storeCtx, job.ID)
	if err != nil {
		return err
	}
	printJobDetail(out, api.FromJob(final), shouldColorize(out))
	if final.Status == jobstore.StatusError {
		return fmt.Errorf("job %s failed: %s", final.ID, final.ErrorMessage)
	}
	return nil
}

func waitDone(ctx context.Context, mgr *workflow.Manager, id string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Wait(ctx, id)
	}()
	return done
}

// followHub prints events for one job until a terminal state event.
func followHub(ctx context.Context, hub *events.Hub, jobID string, out io.Writer, quiet bool) {
	var since uint64
	for {
		batch, next, err := hub.Fetch(ctx, jobID, since, 256, true)
		if err != nil {
			return
		}
		since = next
		for _, evt := range batch {
			if !quiet || evt.Kind == events.KindState {
				fmt.Fprintln(out, formatEvent(evt))
			}
			if evt.Terminal() {
				return
			}
		}
	}
}
