// Package mail delivers verification codes and reset links. The production
// implementation posts JSON to a mail-gateway webhook; Noop is for
// environments without outbound mail.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Message kinds accepted by the gateway.
const (
	kindVerificationCode = "verification_code"
	kindPasswordReset    = "password_reset"
)

type payload struct {
	Kind      string `json:"kind"`
	To        string `json:"to"`
	Code      string `json:"code,omitempty"`
	Link      string `json:"link,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Webhook posts messages to a mail gateway. Safe for concurrent use.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook mailer. A nil client gets a 10 second
// timeout; mail must never hold an auth request open indefinitely.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) SendVerificationCode(ctx context.Context, email, code string) error {
	return w.post(ctx, payload{
		Kind: kindVerificationCode,
		To:   email,
		Code: code,
	})
}

func (w *Webhook) SendPasswordResetLink(ctx context.Context, email, link string) error {
	return w.post(ctx, payload{
		Kind: kindPasswordReset,
		To:   email,
		Link: link,
	})
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	p.Timestamp = time.Now().Format(time.RFC3339)

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post mail webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail webhook status %d", resp.StatusCode)
	}
	return nil
}

// Noop discards all mail. Useful in tests and local development where the
// code is read from logs or the audit stream instead.
type Noop struct{}

func (Noop) SendVerificationCode(ctx context.Context, email, code string) error { return nil }
func (Noop) SendPasswordResetLink(ctx context.Context, email, link string) error { return nil }
