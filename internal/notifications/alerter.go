package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tipline/internal/config"
)

const userAgent = "Tipline-Go/0.1.0"

// Alerter publishes operator alerts.
type Alerter interface {
	NotifyError(ctx context.Context, err error, label string) error
	NotifyKeyInvalid(ctx context.Context, receiverName string) error
	NotifySweepCompleted(ctx context.Context, deleted, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewAlerter builds an alerter backed by ntfy when configured. When no ntfy
// topic is configured, a noop implementation is returned.
func NewAlerter(cfg *config.Config) Alerter {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopAlerter{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyAlerter{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		errors:      cfg.Notifications.Errors,
		keyWarnings: cfg.Notifications.KeyWarnings,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyAlerter struct {
	endpoint    string
	client      *http.Client
	errors      bool
	keyWarnings bool
}

func (n *ntfyAlerter) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "Tipline - Error",
		message:  builder.String(),
		tags:     []string{"tipline", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyAlerter) NotifyKeyInvalid(ctx context.Context, receiverName string) error {
	if !n.keyWarnings {
		return nil
	}
	return n.send(ctx, payload{
		title:    "Tipline - Receiver Key Invalid",
		message:  fmt.Sprintf("Receiver %s has an unusable age recipient; new files for them are marked unreadable", strings.TrimSpace(receiverName)),
		tags:     []string{"tipline", "key", "invalid"},
		priority: "high",
	})
}

func (n *ntfyAlerter) NotifySweepCompleted(ctx context.Context, deleted, failed int, duration time.Duration) error {
	if failed == 0 {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	return n.send(ctx, payload{
		title:   "Tipline - Cleaning (with errors)",
		message: fmt.Sprintf("Expiry sweep: %d deleted, %d failed in %s", deleted, failed, duration),
		tags:    []string{"tipline", "cleaning", "failed"},
	})
}

func (n *ntfyAlerter) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Tipline - Test",
		message:  "Notification system test",
		tags:     []string{"tipline", "test"},
		priority: "low",
	})
}

func (n *ntfyAlerter) send(ctx context.Context, data payload) error {
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

type noopAlerter struct{}

func (noopAlerter) NotifyError(context.Context, error, string) error                    { return nil }
func (noopAlerter) NotifyKeyInvalid(context.Context, string) error                      { return nil }
func (noopAlerter) NotifySweepCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopAlerter) TestNotification(context.Context) error                              { return nil }
