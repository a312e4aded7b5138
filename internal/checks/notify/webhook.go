package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts a text message to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends msg to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg JobMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatJobMessage(msg)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatJobMessage(msg JobMessage) string {
	var b strings.Builder
	b.WriteString("[Fixed-rate checks]\n")
	fmt.Fprintf(&b, "Job: %s (%s)\n", msg.JobID, msg.Kind)
	fmt.Fprintf(&b, "Status: %s\n", msg.Status)
	if msg.Seconds > 0 {
		fmt.Fprintf(&b, "Duration: %.1fs\n", msg.Seconds)
	}
	if msg.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg.Error)
	}
	if msg.ReportURL != "" {
		fmt.Fprintf(&b, "Report: %s\n", msg.ReportURL)
	}
	return strings.TrimSpace(b.String())
}
