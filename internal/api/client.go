package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"docbatch/internal/events"
	"docbatch/internal/services"
)

// Error is a non-2xx response from the daemon.
type Error struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return e.Message
}

// Unwrap maps the reported kind back onto the services markers.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case "validation":
		return services.ErrValidation
	case "not_found":
		return services.ErrNotFound
	case "configuration":
		return services.ErrConfiguration
	case "aggregation":
		return services.ErrAggregation
	case "data_consistency":
		return services.ErrDataConsistency
	case "systemic":
		return services.ErrSystemic
	}
	if e.StatusCode == http.StatusNotFound {
		return services.ErrNotFound
	}
	return nil
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient builds a client for the daemon bound at bind (host:port or URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]Job, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		q := url.Values{}
		for _, s := range statuses {
			q.Add("status", s)
		}
		path += "?" + q.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	return c.jobCall(ctx, http.MethodGet, jobPath(id, ""), nil)
}

// Submit starts a new job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	return c.jobCall(ctx, http.MethodPost, "/api/jobs", req)
}

// Pause pauses a live job.
func (c *Client) Pause(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, jobPath(id, "pause"), nil, nil)
}

// Resume resumes a paused live job.
func (c *Client) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, jobPath(id, "resume"), nil, nil)
}

// Stop stops a job.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, jobPath(id, "stop"), nil, nil)
}

// Restore continues a job from its checkpoint.
func (c *Client) Restore(ctx context.Context, id string) (*Job, error) {
	return c.jobCall(ctx, http.MethodPost, jobPath(id, "restore"), nil)
}

// State returns the job with its live controller state.
func (c *Client) State(ctx context.Context, id string) (*JobState, error) {
	var resp JobState
	if err := c.do(ctx, http.MethodGet, jobPath(id, "state"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Checkpoint returns checkpoint counts for a job.
func (c *Client) Checkpoint(ctx context.Context, id string) (*CheckpointSummary, error) {
	var resp CheckpointSummary
	if err := c.do(ctx, http.MethodGet, jobPath(id, "checkpoint"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Aggregate runs one completion poll. With a job id and retrigger set, the
// job is first moved from error back to processing.
func (c *Client) Aggregate(ctx context.Context, id string, retrigger bool) (*AggregateResponse, error) {
	path := "/api/aggregate"
	if id != "" {
		path = jobPath(id, "aggregate")
	}
	var resp AggregateResponse
	if err := c.do(ctx, http.MethodPost, path, AggregateRequest{Retrigger: retrigger}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs reads one page of the daemon log. Pass the returned offset back to
// continue where the previous page ended.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*LogPage, error) {
	values := url.Values{}
	values.Set("offset", strconv.FormatInt(q.Offset, 10))
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		values.Set("follow", "1")
		if q.Wait > 0 {
			values.Set("wait_ms", strconv.FormatInt(q.Wait.Milliseconds(), 10))
		}
	}
	if q.JobID != "" {
		values.Set("job", q.JobID)
	}
	var page LogPage
	if err := c.do(ctx, http.MethodGet, "/api/logs?"+values.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TestNotification asks the daemon to publish a test notification.
func (c *Client) TestNotification(ctx context.Context) (*NotificationResponse, error) {
	var resp NotificationResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch streams events for a job until a terminal state event arrives, fn
// returns an error, or ctx ends.
func (c *Client) Watch(ctx context.Context, id string, fn func(events.Event) error) error {
	wsURL, err := url.Parse(c.baseURL + jobPath(id, "events"))
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return decodeError(resp)
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
		if evt.Terminal() {
			return nil
		}
	}
}

func (c *Client) jobCall(ctx context.Context, method, path string, body any) (*Job, error) {
	var resp JobResponse
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var payload ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
	} else if text := strings.TrimSpace(string(data)); text != "" {
		apiErr.Message = text
	}
	return apiErr
}

func jobPath(id, action string) string {
	path := "/api/jobs/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

// ParseSince reads an event cursor query value; invalid input yields zero.
func ParseSince(value string) uint64 {
	since, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return since
}

// IsUnauthorized reports whether err is a 401 from the daemon.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
