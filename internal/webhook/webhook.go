package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by Send when no webhook URL is set.
var ErrNotConfigured = errors.New("webhook url not configured")

// URLSource supplies the webhook endpoint. It is consulted on every send so
// a settings change takes effect without a restart.
type URLSource interface {
	WebhookURL() string
}

// Client posts user prompts to the text generation webhook.
type Client struct {
	urls   URLSource
	logger *log.Logger
	client *http.Client
}

// NewClient creates a new webhook client.
func NewClient(urls URLSource, logger *log.Logger) *Client {
	return &Client{
		urls:   urls,
		logger: logger,
		client: &http.Client{},
	}
}

// promptMessage is the payload the webhook expects.
type promptMessage struct {
	Text string `json:"text"`
}

// Send posts text and waits for the webhook to accept it. A timeout of zero
// leaves the request bounded only by ctx.
func (c *Client) Send(ctx context.Context, text string, timeout time.Duration) error {
	url := c.urls.WebhookURL()
	if url == "" {
		return ErrNotConfigured
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(promptMessage{Text: text})
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("send prompt: %w", ctx.Err())
		}
		return fmt.Errorf("send prompt: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.logger.Printf("webhook: %s returned status %d", url, resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
