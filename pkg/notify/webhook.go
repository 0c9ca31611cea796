package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const webhookPostTimeout = 10 * time.Second

// webhookSink posts a Teams-style connector card to one URL.
type webhookSink struct {
	url    string
	client *http.Client
}

func newWebhookSink(url string) *webhookSink {
	return &webhookSink{
		url:    url,
		client: &http.Client{Timeout: webhookPostTimeout},
	}
}

func (w *webhookSink) Name() string { return "webhook" }

type webhookCard struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (w *webhookSink) Deliver(ctx context.Context, a Alert, suppressed int) error {
	title := fmt.Sprintf("[%s] %s", a.Cluster, a.Component)
	if a.Kind != "" {
		title += ": " + a.Kind
	}

	text := fmt.Sprintf("**%s** — %s", a.Severity, a.Summary)
	if a.TicketURL != "" {
		text += "\n\nTicket: " + a.TicketURL
	}
	if a.ReportURL != "" {
		text += "\n\nCycle report: " + a.ReportURL
	}
	if suppressed > 0 {
		text += fmt.Sprintf("\n\n%d identical alert(s) suppressed in the last 15 minutes", suppressed)
	}

	body, err := json.Marshal(webhookCard{Title: title, Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
