// Package alerts dispatches escalated discrepancies to an operator channel.
// Dispatch is fire-and-forget: delivery failures are logged here, never
// surfaced into the reconciliation result.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/driftguard/internal/domain"
)

// LogDispatcher writes critical alerts to the structured log only. Used when
// no webhook is configured.
type LogDispatcher struct{}

// SendCriticalAlert logs the escalated discrepancy at error level.
func (LogDispatcher) SendCriticalAlert(_ context.Context, d domain.Discrepancy) {
	log.Error().
		Str("symbol", d.Symbol).
		Str("type", d.Type.String()).
		Str("severity", d.Severity.String()).
		Time("detected_at", d.DetectedAt).
		Msg("CRITICAL position discrepancy requires manual intervention")
}

// WebhookDispatcher POSTs critical alerts as JSON to an operator webhook.
type WebhookDispatcher struct {
	url        string
	httpClient *http.Client
}

// NewWebhookDispatcher creates a dispatcher for the given webhook URL.
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type alertPayload struct {
	Title       string             `json:"title"`
	Discrepancy domain.Discrepancy `json:"discrepancy"`
	SentAt      time.Time          `json:"sent_at"`
}

// SendCriticalAlert delivers the alert, logging any failure.
func (w *WebhookDispatcher) SendCriticalAlert(ctx context.Context, d domain.Discrepancy) {
	payload := alertPayload{
		Title:       fmt.Sprintf("Position drift: %s %s", d.Symbol, d.Type),
		Discrepancy: d,
		SentAt:      time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("symbol", d.Symbol).Msg("failed to encode alert payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("symbol", d.Symbol).Msg("failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("symbol", d.Symbol).Msg("alert webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("symbol", d.Symbol).
			Msg("alert webhook rejected payload")
		return
	}
	log.Info().Str("symbol", d.Symbol).Str("type", d.Type.String()).Msg("critical alert dispatched")
}
