package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulmo/internal/config"
)

const userAgent = "Pulmo-Go/0.1.0"

// Service defines the push notification surface exposed to the daemon.
type Service interface {
	NotifyRequestCompleted(ctx context.Context, patientID, fileName string) error
	NotifyRequestFailed(ctx context.Context, fileName, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.Completed,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	completed bool
	errors    bool
}

func (n *ntfyService) NotifyRequestCompleted(ctx context.Context, patientID, fileName string) error {
	if !n.completed {
		return nil
	}
	patientID = strings.TrimSpace(patientID)
	fileName = strings.TrimSpace(fileName)
	message := fmt.Sprintf("Report ready: %s", fileName)
	if patientID != "" {
		message = fmt.Sprintf("Report ready for %s: %s", patientID, fileName)
	}
	data := payload{
		title:   "Pulmo - Report Ready",
		message: message,
		tags:    []string{"pulmo", "report", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRequestFailed(ctx context.Context, fileName, reason string) error {
	if !n.errors {
		return nil
	}
	fileName = strings.TrimSpace(fileName)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Pulmo - Processing Failed",
		message:  fmt.Sprintf("Failed: %s\n%s", fileName, reason),
		tags:     []string{"pulmo", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Pulmo - Test",
		message:  "Notification system test",
		tags:     []string{"pulmo", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

func (noopService) NotifyRequestCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyRequestFailed(context.Context, string, string) error    { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
