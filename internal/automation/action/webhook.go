package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// webhookSender issues the webhook.send action's outbound HTTP request,
// deliberately kept on its own short timeout independent of the upstream
// client's 30s budget.
type webhookSender struct {
	http *http.Client
}

func newWebhookSender() *webhookSender {
	return &webhookSender{http: &http.Client{Timeout: webhookTimeout}}
}

func (w *webhookSender) send(ctx context.Context, method, url string, headers map[string]any, body any) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("encoding body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprint(v))
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, resp.Status, nil
}
