package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"docbatch/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := "[" + statusKindLabel(kind) + "]"
	if message != "" {
		statusText += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + line + ansiReset
		}
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// jobStatusKind maps a job status onto a display color.
func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "paused", "stopped":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

func formatProgress(p api.Progress) string {
	return fmt.Sprintf("%d/%d (%.0f%%)", p.Processed, p.Total, p.Percent)
}

func jobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Name,
			job.Status,
			job.Mode,
			formatProgress(job.Progress),
			fmt.Sprintf("%d", job.Progress.Failed),
			job.UpdatedAt,
		})
	}
	return rows
}

func renderJobTable(jobs []api.Job) string {
	return renderTable(
		[]string{"ID", "Name", "Status", "Mode", "Progress", "Failed", "Updated"},
		jobRows(jobs),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func printJobDetail(out io.Writer, job api.Job, colorize bool) {
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), job.Status, colorize))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Name:", job.Name)
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Mode:", job.Mode)
	fmt.Fprintf(out, "%s%-*s %s (recursive: %s)\n", statusIndent, statusLabelWidth, "Source:", job.SourceRoot, yesNo(job.Recursive))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Progress:", formatProgress(job.Progress))
	fmt.Fprintf(out, "%s%-*s %d succeeded, %d failed\n", statusIndent, statusLabelWidth, "Outcomes:", job.Progress.Succeeded, job.Progress.Failed)
	if job.Progress.CurrentItem != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Current item:", job.Progress.CurrentItem)
	}
	if job.Mode == "dispatched" {
		fmt.Fprintf(out, "%s%-*s %d dispatched, %d acknowledged\n", statusIndent, statusLabelWidth, "Delivery:", job.DispatchedCount, job.AcknowledgedCount)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Message", jobStatusKind(job.Status), job.ErrorMessage, colorize))
	}
	if job.ExportDir != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Export:", job.ExportDir)
	}
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Created:", job.CreatedAt)
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Completed:", job.CompletedAt)
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
