package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Slack шлет сообщение во входящий webhook.
type Slack struct {
	url    string
	client *http.Client
}

func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Slack{url: webhookURL, client: &http.Client{Timeout: timeout}}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *Slack) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(slackMessage{Text: formatText(ev)})
	if err != nil {
		return fmt.Errorf("slack: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func formatText(ev Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s* `%s` (%s)", ev.Verdict, ev.ToolName, ev.RiskTier)
	if ev.AgentID != "" {
		fmt.Fprintf(&sb, " agent=%s", ev.AgentID)
	}
	if len(ev.Devices) > 0 {
		fmt.Fprintf(&sb, " devices=%s", strings.Join(ev.Devices, ","))
	}
	fmt.Fprintf(&sb, "\n%s", ev.Reason)
	if ev.EscalationID != "" {
		fmt.Fprintf(&sb, "\nescalation: %s", ev.EscalationID)
	}
	return sb.String()
}
