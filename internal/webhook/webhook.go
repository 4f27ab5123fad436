package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/viralcut/clipper/internal/models"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
	baseDelay      = 2 * time.Second
)

// Sender delivers terminal job notifications. Delivery retries with 2s/4s/8s
// backoff on network errors, 429, and 5xx; any other 4xx is final.
type Sender struct {
	client *http.Client
	delay  time.Duration
}

func NewSender() *Sender {
	return &Sender{
		client: &http.Client{Timeout: requestTimeout},
		delay:  baseDelay,
	}
}

// Send posts the payload to url. The error return is informational; the
// pipeline's terminal state does not depend on webhook delivery.
func (s *Sender) Send(ctx context.Context, url string, payload models.WebhookPayload) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	delay := s.delay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("[Webhook] [%s] Retry %d/%d (waiting %v)...", payload.JobID, attempt, maxAttempts, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		retryable, err := s.sendOnce(ctx, url, body)
		if err == nil {
			log.Printf("[Webhook] [%s] Delivered %s notification", payload.JobID, payload.Status)
			return nil
		}
		lastErr = err
		if !retryable {
			return fmt.Errorf("webhook rejected: %w", err)
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Sender) sendOnce(ctx context.Context, url string, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
