package invalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts invalidations to a revalidation endpoint.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookNotifier constructs a notifier. secret, when set, is sent as a
// bearer token.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Invalidate posts {"path","at"} to the webhook.
func (n *WebhookNotifier) Invalidate(ctx context.Context, path string) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(newMessage(path))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}
