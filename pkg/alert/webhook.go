package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// EventPassCompleted is the event name carried by webhook deliveries.
const EventPassCompleted = "pass.completed"

// Webhook posts pass summaries to a generic HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookEnvelope struct {
	Event string        `json:"event"`
	Sent  time.Time     `json:"sent_at"`
	Data  *Notification `json:"data"`
}

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	sent := w.now().UTC()
	body, err := json.Marshal(webhookEnvelope{Event: EventPassCompleted, Sent: sent, Data: n})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	ts := strconv.FormatInt(sent.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "popradar/1.0")
	req.Header.Set("X-Popradar-Event", EventPassCompleted)
	req.Header.Set("X-Popradar-Timestamp", ts)

	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<body>". Receivers
// recompute it to verify a delivery and reject stale timestamps.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
