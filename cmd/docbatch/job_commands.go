package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docbatch/internal/api"
	"docbatch/internal/events"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Manage jobs on the daemon",
	}
	cmd.AddCommand(newJobListCommand(ctx))
	cmd.AddCommand(newJobShowCommand(ctx))
	cmd.AddCommand(newJobSubmitCommand(ctx))
	cmd.AddCommand(newJobControlCommand(ctx, "pause", "Pause a running job", (*api.Client).Pause))
	cmd.AddCommand(newJobControlCommand(ctx, "resume", "Resume a paused job", (*api.Client).Resume))
	cmd.AddCommand(newJobControlCommand(ctx, "stop", "Stop a job", (*api.Client).Stop))
	cmd.AddCommand(newJobStateCommand(ctx))
	cmd.AddCommand(newJobCheckpointCommand(ctx))
	cmd.AddCommand(newJobRestoreCommand(ctx))
	cmd.AddCommand(newJobWatchCommand(ctx))
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				printJobDetail(cmd.OutOrStdout(), *job, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		name        string
		mode        string
		concurrency int
		maxRetries  int
		noRecursive bool
		watch       bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "submit <source-dir>",
		Short: "Submit a directory for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve source directory: %w", err)
			}
			req := api.SubmitRequest{
				Name:        strings.TrimSpace(name),
				SourceRoot:  root,
				Concurrency: concurrency,
				Mode:        strings.TrimSpace(mode),
			}
			if cmd.Flags().Changed("no-recursive") {
				recursive := !noRecursive
				req.Recursive = &recursive
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON && !watch {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s, %d items)\n", job.ID, job.Mode, job.Progress.Total)
				if !watch {
					return nil
				}
				return watchJob(cmd, client, job.ID)
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Job name (defaults to the directory name)")
	cmd.Flags().StringVar(&mode, "mode", "", "Processing mode: inprocess or dispatched")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker count (defaults to batch.concurrency)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries per item (defaults to batch.max_retries)")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "Only scan the top-level directory")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job ends")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobControlCommand(ctx *commandContext, use, short string, op func(*api.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := op(client, cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requested %s for job %s\n", use, args[0])
				return nil
			})
		},
	}
}

func newJobStateCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state <job-id>",
		Short: "Show the live controller state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				state, err := client.State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, state)
				}
				out := cmd.OutOrStdout()
				live := "not live"
				if state.Live {
					live = "live"
				}
				fmt.Fprintf(out, "%s: %s (%s) %s\n", state.Job.ID, state.State, live, formatProgress(state.Job.Progress))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobCheckpointCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "checkpoint <job-id>",
		Short: "Show the saved checkpoint of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				cp, err := client.Checkpoint(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, cp)
				}
				saved := cp.SavedAt
				if saved == "" {
					saved = "never"
				}
				rows := [][]string{
					{"Total", fmt.Sprintf("%d", cp.Total)},
					{"Processed", fmt.Sprintf("%d", cp.ProcessedCount)},
					{"Results", fmt.Sprintf("%d", cp.Results)},
					{"Errors", fmt.Sprintf("%d", cp.Errors)},
					{"Consecutive errors", fmt.Sprintf("%d", cp.ConsecutiveErrors)},
					{"Retrying items", fmt.Sprintf("%d", len(cp.RetryState))},
					{"Saved", saved},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobRestoreCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "restore <job-id>",
		Short: "Restart a paused, stopped or failed job from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored job %s at %s\n", job.ID, formatProgress(job.Progress))
				if !watch {
					return nil
				}
				return watchJob(cmd, client, job.ID)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job ends")
	return cmd
}

func newJobWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow job progress until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				return watchJob(cmd, client, args[0])
			})
		},
	}
}

func watchJob(cmd *cobra.Command, client *api.Client, id string) error {
	out := cmd.OutOrStdout()
	err := client.Watch(cmd.Context(), id, func(evt events.Event) error {
		fmt.Fprintln(out, formatEvent(evt))
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	job, err := client.GetJob(context.WithoutCancel(cmd.Context()), id)
	if err != nil {
		return err
	}
	printJobDetail(out, *job, shouldColorize(out))
	return nil
}

func formatEvent(evt events.Event) string {
	ts := evt.Timestamp.Local().Format(time.TimeOnly)
	switch evt.Kind {
	case events.KindProgress:
		line := fmt.Sprintf("%s progress %d/%d", ts, evt.Current, evt.Total)
		if evt.Item != "" {
			line += " " + evt.Item
		}
		return line
	case events.KindCheckpoint:
		return fmt.Sprintf("%s checkpoint saved at %d/%d", ts, evt.Current, evt.Total)
	default:
		line := fmt.Sprintf("%s %s", ts, evt.State)
		if evt.Reason != "" {
			line += ": " + evt.Reason
		}
		return line
	}
}
