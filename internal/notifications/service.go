package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docbatch/internal/config"
)

const userAgent = "docbatch/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventJobPaused    Event = "job_paused"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

// Payload carries event fields. Known keys: name, jobID, reason, succeeded,
// failed, duration, exportDir.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobPaused:    cfg.Notifications.OnPause,
			EventJobCompleted: cfg.Notifications.OnComplete,
			EventJobFailed:    cfg.Notifications.OnError,
			EventTest:         true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	name := payload.text("name", "job")
	switch event {
	case EventJobPaused:
		return message{
			title:    "docbatch - Job Paused",
			body:     fmt.Sprintf("⏸ %s paused: %s", name, payload.text("reason", "operator request")),
			tags:     []string{"docbatch", "job", "paused"},
			priority: "high",
		}, true
	case EventJobCompleted:
		succeeded := payload.int("succeeded")
		failed := payload.int("failed")
		body := fmt.Sprintf("✅ %s complete: %d items", name, succeeded)
		title := "docbatch - Job Complete"
		if failed > 0 {
			title = "docbatch - Job Complete (with errors)"
			body = fmt.Sprintf("✅ %s complete: %d succeeded, %d failed", name, succeeded, failed)
		}
		if d, ok := payload["duration"].(time.Duration); ok && d > 0 {
			body = fmt.Sprintf("%s in %s", body, d.Round(time.Second))
		}
		if dir := payload.text("exportDir", ""); dir != "" {
			body = fmt.Sprintf("%s\nExport: %s", body, dir)
		}
		return message{title: title, body: body, tags: []string{"docbatch", "job", "completed"}}, true
	case EventJobFailed:
		return message{
			title:    "docbatch - Job Failed",
			body:     fmt.Sprintf("❌ %s failed: %s", name, payload.text("reason", "unknown")),
			tags:     []string{"docbatch", "job", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "docbatch - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"docbatch", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key, fallback string) string {
	if p == nil {
		return fallback
	}
	switch v := p[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case error:
		if v != nil {
			return strings.TrimSpace(v.Error())
		}
	case fmt.Stringer:
		return v.String()
	}
	return fallback
}

func (p Payload) int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
