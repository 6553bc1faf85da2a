package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const pollInterval = 200 * time.Millisecond

// Request selects a window of the log file.
type Request struct {
	// Offset is a byte position from a previous Page; negative means "the
	// last Limit lines".
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing the string (typically a job id).
	Match string
}

// Page is one read of the log file.
type Page struct {
	Lines  []string
	Offset int64
}

// Tail reads path according to req. A missing file yields an empty page.
// An offset past the end of the file means it was truncated or rotated, and
// reading restarts from the beginning.
func Tail(ctx context.Context, path string, req Request) (Page, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Page{}, nil
	}
	if err != nil {
		return Page{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Page{}, fmt.Errorf("log path %q is a directory", path)
	}

	if req.Offset < 0 {
		page, err := lastLines(path, req.Limit, req.Match)
		if err != nil || len(page.Lines) > 0 || !req.Follow {
			return page, err
		}
		return follow(ctx, path, page.Offset, req)
	}

	offset := req.Offset
	if offset > info.Size() {
		offset = 0
	}
	page, err := readFrom(path, offset, req.Limit, req.Match)
	if err != nil || len(page.Lines) > 0 || !req.Follow {
		return page, err
	}
	return follow(ctx, path, page.Offset, req)
}

func follow(ctx context.Context, path string, offset int64, req Request) (Page, error) {
	deadline := time.Now().Add(max(req.Wait, 0))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	page := Page{Offset: offset}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return page, ctx.Err()
		case <-ticker.C:
		}
		next, err := readFrom(path, page.Offset, req.Limit, req.Match)
		if err != nil {
			return page, err
		}
		if len(next.Lines) > 0 {
			return next, nil
		}
		page.Offset = next.Offset
	}
	return page, nil
}

// lastLines keeps a ring of the final limit matching lines.
func lastLines(path string, limit int, match string) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	ring := make([]string, 0, limit)
	start := 0
	end, err := scan(path, 0, func(line string) bool {
		if match != "" && !strings.Contains(line, match) {
			return true
		}
		if len(ring) < limit {
			ring = append(ring, line)
		} else {
			ring[start] = line
			start = (start + 1) % limit
		}
		return true
	})
	if err != nil {
		return Page{}, err
	}
	lines := append(ring[start:len(ring):len(ring)], ring[:start]...)
	return Page{Lines: lines, Offset: end}, nil
}

// readFrom returns up to limit matching lines after offset. The returned
// offset stops after the last line consumed so the remainder is read next
// time.
func readFrom(path string, offset int64, limit int, match string) (Page, error) {
	var lines []string
	end, err := scan(path, offset, func(line string) bool {
		if match == "" || strings.Contains(line, match) {
			lines = append(lines, line)
		}
		return limit <= 0 || len(lines) < limit
	})
	if err != nil {
		return Page{Offset: offset}, err
	}
	return Page{Lines: lines, Offset: end}, nil
}

// scan feeds complete lines starting at offset to fn until it returns false,
// and reports the offset just past the last complete line read. A trailing
// partial line is left for the next call.
func scan(path string, offset int64, fn func(string) bool) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	pos := offset
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return pos, nil
		}
		if err != nil {
			return pos, fmt.Errorf("read log file: %w", err)
		}
		pos += int64(len(line))
		if !fn(strings.TrimRight(line, "\r\n")) {
			return pos, nil
		}
	}
}
