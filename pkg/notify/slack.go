package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackNotifier sends notifications via Slack incoming webhooks.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL
	WebhookURL string

	// Channel overrides the default channel (optional)
	Channel string
}

// NewSlackNotifier creates a Slack notifier.
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name returns the channel name.
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Notify posts the event to the webhook.
func (s *SlackNotifier) Notify(ctx context.Context, event Event) error {
	var emoji, color string
	switch event.Level {
	case LevelCritical:
		emoji = ":rotating_light:"
		color = "#FF0000"
	case LevelWarning:
		emoji = ":warning:"
		color = "#FFA500"
	default:
		emoji = ":information_source:"
		color = "#CCCCCC"
	}

	var fields []map[string]any
	if event.SessionID != "" {
		fields = append(fields, map[string]any{
			"title": "Session",
			"value": event.SessionID,
			"short": true,
		})
	}
	for key, value := range event.Details {
		fields = append(fields, map[string]any{
			"title": key,
			"value": fmt.Sprintf("%v", value),
			"short": true,
		})
	}

	payload := map[string]any{
		"text": fmt.Sprintf("%s *%s*", emoji, event.Title),
		"attachments": []map[string]any{
			{
				"color":  color,
				"text":   event.Body,
				"fields": fields,
				"ts":     event.Timestamp.Unix(),
			},
		},
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
