package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"utility-balance-alerts/internal/version"
)

// Webhook posts notifications to a generic HTTP endpoint.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a generic webhook surface.
// If secret is non-empty, requests are signed with HMAC-SHA256.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) PermissionStatus() Permission {
	if w.url == "" {
		return PermissionUnsupported
	}
	return PermissionGranted
}

func (w *Webhook) RequestPermission(context.Context) (Permission, error) {
	return w.PermissionStatus(), nil
}

func (w *Webhook) Show(ctx context.Context, title, body string, opts Options) error {
	payload := webhookPayload{
		Event:     "balance_notification",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Title:     title,
		Body:      body,
		Options:   opts,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if w.secret != "" {
		sig := computeHMAC(encoded, []byte(w.secret))
		req.Header.Set("X-Signature-256", "sha256="+sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Options   Options `json:"options"`
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Surface = (*Webhook)(nil)
