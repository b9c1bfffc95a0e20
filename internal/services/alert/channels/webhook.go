package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/internal/domain"
)

// Webhook posts the full alert as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook channel targeting the given URL.
func NewWebhook(url string) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (w *Webhook) Name() string {
	return "webhook"
}

func (w *Webhook) Send(ctx context.Context, candidate domain.AlertCandidate) error {
	body, err := json.Marshal(candidate)
	if err != nil {
		return errors.Wrap(err, "marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
