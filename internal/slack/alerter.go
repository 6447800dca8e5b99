// Package slack posts session lifecycle alerts to a Slack channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts session alerts to a Slack channel via chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// sessionPayload is the subset of fields extracted from session alert messages.
type sessionPayload struct {
	SessionID string  `json:"session_id"`
	Error     string  `json:"error"`
	Message   string  `json:"message"`
	Reason    string  `json:"reason"`
	Attempts  int     `json:"attempts"`
	SleepS    float64 `json:"sleep_s"`
}

// PostSessionAlert sends a Block Kit message for a session alert. It
// rate-limits to at most one alert per 30 seconds to protect against
// burst storms while a session is flapping.
func (a *Alerter) PostSessionAlert(ctx context.Context, subject string, payload []byte) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	var sp sessionPayload
	_ = json.Unmarshal(payload, &sp)

	detail := sp.Error
	if detail == "" {
		detail = sp.Message
	}
	if detail == "" {
		detail = sp.Reason
	}
	if detail == "" {
		detail = "unknown"
	}
	session := sp.SessionID
	if session == "" {
		session = "-"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Stream Session Alert",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:*\n%s", subject)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Session:*\n%s", session)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:*\n%s", detail)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Attempts:*\n%d", sp.Attempts)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Session alert: %s — %s", subject, detail),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("session alert posted to Slack", "channel", a.channel, "subject", subject)
	return nil
}
