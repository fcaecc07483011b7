/*
Package notify delivers buyer messages for the billing engine.

DISPATCHERS:
  WhatsApp: WhatsApp Cloud API text messages
  Log:      Writes the message to the log instead of sending it (dev, tests)

Both satisfy billing.Dispatcher. The engine calls them after commit with a
per-message deadline; a returned error becomes a warning on the response.
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAPIBase = "https://graph.facebook.com/v20.0"

	whatsappMaxRetries   = 3
	whatsappInitialDelay = 500 * time.Millisecond
)

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	phoneNumberID string
	token         string
	baseURL       string
	client        *http.Client
	log           zerolog.Logger
}

type whatsappText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type whatsappRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

type whatsappError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewWhatsApp creates a client. An empty baseURL uses DefaultAPIBase.
func NewWhatsApp(phoneNumberID, token, baseURL string, log zerolog.Logger) *WhatsApp {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	return &WhatsApp{
		phoneNumberID: phoneNumberID,
		token:         token,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{},
		log:           log.With().Str("component", "whatsapp").Logger(),
	}
}

// SendText posts a text message to the recipient's WhatsApp number.
func (w *WhatsApp) SendText(ctx context.Context, to, body string) error {
	if w.token == "" || w.phoneNumberID == "" {
		return fmt.Errorf("whatsapp credentials not configured")
	}

	payload, err := json.Marshal(whatsappRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               normalizePhone(to),
		Type:             "text",
		Text:             whatsappText{Body: body, PreviewURL: true},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)

	// Retry with exponential backoff: 0.5s, 1s
	var lastErr error
	for attempt := 0; attempt < whatsappMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * whatsappInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+w.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			w.log.Debug().Str("to", to).Int("attempt", attempt+1).Msg("message accepted")
			return nil
		}

		var apiErr whatsappError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			lastErr = fmt.Errorf("whatsapp API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			lastErr = fmt.Errorf("whatsapp API error (%d): %s", resp.StatusCode, string(respBody))
		}
		// Retry on rate limit (429) or server errors (5xx)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			continue
		}
		return lastErr
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", whatsappMaxRetries, lastErr)
}

// normalizePhone strips everything but digits; the Cloud API wants the
// international number without "+".
func normalizePhone(p string) string {
	var sb strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// =============================================================================
// LOG DISPATCHER
// =============================================================================

// Log records messages instead of sending them.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) SendText(_ context.Context, to, body string) error {
	l.log.Info().Str("to", to).Str("body", body).Msg("message not sent (no WhatsApp credentials)")
	return nil
}
