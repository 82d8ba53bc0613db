package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// maxBodyRunes keeps a reminder within three concatenated GSM segments.
const maxBodyRunes = 459

type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

// WebhookSender posts {to, body, from} to an SMS gateway webhook.
type WebhookSender struct {
	url    string
	token  string
	from   string
	client *http.Client
}

func NewWebhookSender(url, token, from string) *WebhookSender {
	return &WebhookSender{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		from:   strings.TrimSpace(from),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *WebhookSender) ProviderID() string { return "sms-webhook" }

func (s *WebhookSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	number, err := Normalize(to)
	if err != nil {
		return err
	}
	payload := map[string]string{"to": number, "body": truncate(body, maxBodyRunes)}
	if s.from != "" {
		payload["from"] = s.from
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sms webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Normalize returns to in E.164 form. Bare ten-digit Nepali mobile numbers and numbers
// written with the 977 prefix but no plus sign gain the +977 country code.
func Normalize(to string) (string, error) {
	var digits strings.Builder
	plus := false
	for i, r := range strings.TrimSpace(to) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
			plus = true
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidNumber, to)
		}
	}
	d := digits.String()
	switch {
	case plus:
	case len(d) == 10 && d[0] == '9':
		d = "977" + d
	case len(d) == 13 && strings.HasPrefix(d, "977"):
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}
	if len(d) < 8 || len(d) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}
	return "+" + d, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// NoopSender accepts every message without sending it.
type NoopSender struct{}

func NewNoopSender() *NoopSender { return &NoopSender{} }

func (s *NoopSender) ProviderID() string { return "sms-noop" }

func (s *NoopSender) Send(context.Context, string, string) error { return nil }

// FromConfig picks the webhook sender when a url is configured.
func FromConfig(url, token, from string) Sender {
	if strings.TrimSpace(url) == "" {
		return NewNoopSender()
	}
	return NewWebhookSender(url, token, from)
}
