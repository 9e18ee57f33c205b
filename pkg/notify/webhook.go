package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/survarium-stats/importer/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookNotifier posts events as JSON to a chat-bot relay.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.New("notify-webhook"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	if err := n.post(ctx, event); err != nil {
		n.logger.Warn().
			Err(err).
			Str("action", "webhook_failed").
			Str("event_type", string(event.Type)).
			Msg("Failed to deliver status event")
	}
}

func (n *WebhookNotifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
