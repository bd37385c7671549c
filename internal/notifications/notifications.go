// Package notifications delivers diagnosed signatures and periodic
// summaries to operator-configured webhook endpoints. Delivery is
// at-least-once; receivers must dedupe on signature id.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBackoff   = time.Second
)

// Webhook posts JSON notifications to one or more URLs.
type Webhook struct {
	urls    []string
	client  *http.Client
	backoff time.Duration
}

// NewWebhook creates a webhook notifier. timeout <= 0 uses the default.
func NewWebhook(urls []string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		urls:    urls,
		client:  &http.Client{Timeout: timeout},
		backoff: retryBackoff,
	}
}

type diagnosisPayload struct {
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Signature *models.Signature `json:"signature"`
	Diagnosis *models.Diagnosis `json:"diagnosis"`
}

type summaryPayload struct {
	Event     string             `json:"event"`
	Timestamp time.Time          `json:"timestamp"`
	Stats     *models.StoreStats `json:"stats"`
}

// Report delivers a fresh diagnosis to every configured URL.
func (w *Webhook) Report(ctx context.Context, sig *models.Signature, diag *models.Diagnosis) error {
	return w.broadcast(ctx, "notifications.report", diagnosisPayload{
		Event:     "signature.diagnosed",
		Timestamp: time.Now().UTC(),
		Signature: sig,
		Diagnosis: diag,
	})
}

// ReportSummary delivers a periodic stats roll-up.
func (w *Webhook) ReportSummary(ctx context.Context, stats *models.StoreStats) error {
	return w.broadcast(ctx, "notifications.report_summary", summaryPayload{
		Event:     "stats.summary",
		Timestamp: time.Now().UTC(),
		Stats:     stats,
	})
}

// broadcast posts the payload to each URL; every URL gets its own retry
// budget. One failing destination does not block the others.
func (w *Webhook) broadcast(ctx context.Context, op string, payload any) error {
	if len(w.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errkind.Validation(op, err)
	}

	var lastErr error
	for _, url := range w.urls {
		if err := w.deliver(ctx, url, body); err != nil {
			log.Error().Err(err).Str("url", url).Msg("Webhook delivery failed")
			lastErr = err
			continue
		}
		log.Debug().Str("url", url).Msg("Webhook delivered")
	}
	if lastErr != nil {
		return errkind.Transport(op, lastErr)
	}
	return nil
}

func (w *Webhook) deliver(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(w.backoff * time.Duration(attempt-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "tracehound-notifier")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal on retry.
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
