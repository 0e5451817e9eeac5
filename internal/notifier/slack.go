package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
)

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string // Slack incoming webhook URL
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// SlackNotifier sends incident events to Slack via webhook.
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid slack config: %w", err)
	}

	return &SlackNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends an incident event to Slack.
func (s *SlackNotifier) Send(ctx context.Context, ev Event) error {
	payload := s.buildPayload(ev)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text   string       `json:"text,omitempty"`
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Slack Block Kit message payload.
func (s *SlackNotifier) buildPayload(ev Event) slackMessage {
	emoji := levelEmoji(ev.AlertLevel)
	timestamp := ev.EventAt.Format("2006-01-02 15:04:05 MST")
	title := fmt.Sprintf("%s Fire incident %s on %s", emoji, ev.Kind, ev.DeviceID)

	blocks := []slackBlock{
		// Header
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  title,
				Emoji: true,
			},
		},
		// Level and time fields
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Alert level:*\n%s %s", emoji, strings.ToUpper(ev.AlertLevel.String())),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", timestamp),
				},
			},
		},
	}

	if ev.IncidentType != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Incident type:*\n%s", ev.IncidentType),
			},
		})
	}

	if ev.Notes != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Notes:*\n%s", truncate(ev.Notes, 500)),
			},
		})
	}

	if ev.Actor != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("By %s", ev.Actor),
				},
			},
		})
	}

	return slackMessage{Text: title, Blocks: blocks}
}

// levelEmoji returns an emoji for the alert level.
func levelEmoji(level models.AlertLevel) string {
	switch {
	case level >= models.AlertLevelCritical:
		return "\U0001F534" // red circle
	case level == models.AlertLevelWarning:
		return "\U0001F7E0" // orange circle
	default:
		return "\u26AA" // white circle
	}
}

// truncate truncates a string to max runes with ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
