package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"docbatch/internal/api"
	"docbatch/internal/events"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("docbatchd", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "docbatchd:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("docbatchd", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("unexpected colored line %q", got)
	}
}

func TestCheckLinesSummarizesFailures(t *testing.T) {
	lines := checkLines([]api.CheckResult{
		{Name: "data_dir", Passed: true},
		{Name: "backend", Passed: false, Detail: "unreachable"},
	}, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "1 of 2") {
		t.Fatalf("summary line = %q", lines[0])
	}
	if !strings.Contains(lines[2], "unreachable") {
		t.Fatalf("backend line = %q", lines[2])
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	progress := formatEvent(events.Event{Timestamp: ts, Kind: events.KindProgress, Current: 3, Total: 9, Item: "a.txt"})
	if progress != "03:04:05 progress 3/9 a.txt" {
		t.Fatalf("progress line = %q", progress)
	}
	state := formatEvent(events.Event{Timestamp: ts, Kind: events.KindState, State: "paused", Reason: "burst"})
	if state != "03:04:05 paused: burst" {
		t.Fatalf("state line = %q", state)
	}
}

func TestRenderJobTable(t *testing.T) {
	table := renderJobTable([]api.Job{{
		ID:       "job-1",
		Name:     "letters",
		Status:   "running",
		Mode:     "inprocess",
		Progress: api.Progress{Total: 4, Processed: 1, Percent: 25},
	}})
	for _, want := range []string{"job-1", "letters", "1/4 (25%)"} {
		if !strings.Contains(table, want) {
			t.Fatalf("table missing %q:\n%s", want, table)
		}
	}
}
