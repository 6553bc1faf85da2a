package daemon

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docbatch/internal/api"
	"docbatch/internal/logs"
	"docbatch/internal/services"
)

// LogFileName is the daemon log file inside paths.log_dir.
const LogFileName = "docbatchd.log"

const (
	defaultLogLimit = 100
	maxLogLimit     = 5000
	maxLogWait      = 30 * time.Second
)

func (d *Daemon) logPath() string {
	return filepath.Join(d.cfg.Paths.LogDir, LogFileName)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := logs.Request{
		Offset: -1,
		Limit:  defaultLogLimit,
		Follow: q.Get("follow") == "1" || q.Get("follow") == "true",
		Match:  strings.TrimSpace(q.Get("job")),
	}
	if value := q.Get("offset"); value != "" {
		offset, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.writeServiceError(w, services.Wrap(services.ErrValidation, "api", "logs", "invalid offset", err))
			return
		}
		req.Offset = offset
	}
	if value := q.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			s.writeServiceError(w, services.Wrap(services.ErrValidation, "api", "logs", "invalid limit", err))
			return
		}
		req.Limit = min(limit, maxLogLimit)
	}
	if req.Follow {
		req.Wait = maxLogWait
		if value := q.Get("wait_ms"); value != "" {
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				req.Wait = min(time.Duration(ms)*time.Millisecond, maxLogWait)
			}
		}
	}

	page, err := logs.Tail(r.Context(), s.daemon.logPath(), req)
	if err != nil && r.Context().Err() == nil {
		s.writeServiceError(w, services.Wrap(services.ErrSystemic, "api", "logs", "read daemon log", err))
		return
	}
	lines := page.Lines
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.LogPage{Lines: lines, Offset: page.Offset})
}
