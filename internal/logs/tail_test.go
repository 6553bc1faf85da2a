package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docbatch/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docbatchd.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	page, err := logs.Tail(context.Background(), path, logs.Request{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if strings.Join(page.Lines, ",") != "b,c" {
		t.Fatalf("lines = %v, want [b c]", page.Lines)
	}
	if page.Offset != 6 {
		t.Fatalf("offset = %d, want 6", page.Offset)
	}
}

func TestTailFiltersByMatch(t *testing.T) {
	path := writeLog(t, "job=a one\njob=b two\njob=a three\njob=b four\n")

	page, err := logs.Tail(context.Background(), path, logs.Request{Offset: -1, Limit: 10, Match: "job=a"})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if strings.Join(page.Lines, "|") != "job=a one|job=a three" {
		t.Fatalf("lines = %v", page.Lines)
	}
}

func TestTailFromOffsetLeavesPartialLine(t *testing.T) {
	path := writeLog(t, "first\nsecond\npart")

	page, err := logs.Tail(context.Background(), path, logs.Request{Offset: 6})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if strings.Join(page.Lines, ",") != "second" || page.Offset != 13 {
		t.Fatalf("page = %+v, want [second] at 13", page)
	}
}

func TestTailRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "fresh\n")

	page, err := logs.Tail(context.Background(), path, logs.Request{Offset: 500})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "fresh" {
		t.Fatalf("lines = %v, want [fresh]", page.Lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	page, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.Request{Offset: -1})
	if err != nil || len(page.Lines) != 0 || page.Offset != 0 {
		t.Fatalf("page = %+v err = %v, want empty", page, err)
	}
}

func TestTailFollowWaitsForNewLines(t *testing.T) {
	path := writeLog(t, "start\n")
	first, err := logs.Tail(context.Background(), path, logs.Request{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial Tail failed: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		_, _ = f.WriteString("next\n")
		_ = f.Close()
	}()

	page, err := logs.Tail(context.Background(), path, logs.Request{
		Offset: first.Offset,
		Follow: true,
		Wait:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("follow Tail failed: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "next" {
		t.Fatalf("lines = %v, want [next]", page.Lines)
	}
}
