package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"docbatch/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and readiness checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status *api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("docbatchd", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("docbatchd", statusError, "Not running", colorize))
	}
	store := status.StoreDriver
	if status.DatabasePath != "" {
		store += " (" + status.DatabasePath + ")"
	}
	fmt.Fprintln(out, renderStatusLine("Job store", statusInfo, store, colorize))
	fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, status.Backend, colorize))
	monitorKind := statusWarn
	monitorText := "Disabled"
	if status.MonitorEnabled {
		monitorKind, monitorText = statusOK, "Enabled"
	}
	fmt.Fprintln(out, renderStatusLine("Monitor", monitorKind, monitorText, colorize))
	live := "none"
	if len(status.LiveJobs) > 0 {
		live = strings.Join(status.LiveJobs, ", ")
	}
	fmt.Fprintln(out, renderStatusLine("Live jobs", statusInfo, live, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.JobCounts) == 0 {
		fmt.Fprintln(out, statusIndent+"No jobs")
	} else {
		keys := make([]string, 0, len(status.JobCounts))
		for k := range status.JobCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(out, renderStatusLine(k, jobStatusKind(k), fmt.Sprintf("%d", status.JobCounts[k]), colorize))
		}
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range checkLines(status.Checks, colorize) {
		fmt.Fprintln(out, line)
	}
}

func checkLines(checks []api.CheckResult, colorize bool) []string {
	failed := 0
	lines := make([]string, 0, len(checks)+1)
	for _, check := range checks {
		kind := statusOK
		detail := check.Detail
		if !check.Passed {
			kind = statusError
			failed++
		}
		lines = append(lines, renderStatusLine(check.Name, kind, detail, colorize))
	}
	summaryKind := statusOK
	summary := fmt.Sprintf("%d checks passed", len(checks))
	if failed > 0 {
		summaryKind = statusError
		summary = fmt.Sprintf("%d of %d checks failed", failed, len(checks))
	}
	return append([]string{renderStatusLine("Summary", summaryKind, summary, colorize)}, lines...)
}
