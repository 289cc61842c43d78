package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	platforms := make([]string, 0, len(n.ByPlatform))
	for p, c := range n.ByPlatform {
		platforms = append(platforms, fmt.Sprintf("%s: %d", p, c))
	}
	sort.Strings(platforms)

	summary := fmt.Sprintf("*Records:* %d (%s)\n%s", n.Records, strings.Join(platforms, ", "), n.Body)
	if len(n.RateLimited) > 0 {
		summary += "\n*Throttled:* " + strings.Join(n.RateLimited, ", ")
	}
	if len(n.Failures) > 0 {
		summary += "\n*Failed:* " + strings.Join(n.Failures, ", ")
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": n.Title},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": summary},
		},
	}

	// Top records as context, at most five.
	if len(n.Top) > 0 {
		var elements []map[string]any
		for _, r := range n.Top[:min(5, len(n.Top))] {
			elements = append(elements, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("<%s|%s> [%s/%s]", r.URL, r.Title, r.Platform, r.Region),
			})
		}
		blocks = append(blocks, map[string]any{
			"type":     "context",
			"elements": elements,
		})
	}

	body, err := json.Marshal(map[string]any{"blocks": blocks})
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
		return fmt.Errorf("send slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}

	return nil
}
