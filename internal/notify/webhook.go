// Package notify posts batch outcomes to an operator-configured webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/schedule"
)

type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type batchPayload struct {
	Event     string                `json:"event"`
	Timestamp time.Time             `json:"timestamp"`
	Summary   schedule.BatchSummary `json:"summary"`
}

// BatchCompleted delivers one batch summary. Any 2xx status counts as
// accepted.
func (n *WebhookNotifier) BatchCompleted(ctx context.Context, sum schedule.BatchSummary) error {
	reqBody, err := json.Marshal(batchPayload{
		Event:     "broadcast.completed",
		Timestamp: time.Now().UTC(),
		Summary:   sum,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	return nil
}
