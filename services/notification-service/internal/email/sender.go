package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const defaultFrom = "no-reply@upachar.local"

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = defaultFrom
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) ProviderID() string {
	return "smtp"
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	return smtp.SendMail(s.addr, nil, s.from, []string{msg.To}, []byte(buildMessage(s.from, msg)))
}

func buildMessage(from string, msg Message) string {
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%q <%s>", msg.ToName, msg.To)
	}
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		msg.Subject,
		msg.Body,
	)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com.
	Host string
}

// SendGridSender sends through the SendGrid v3 mail API.
type SendGridSender struct {
	cfg SendGridConfig
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig) *SendGridSender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = defaultFrom
	}
	if cfg.FromName == "" {
		cfg.FromName = "Upachar"
	}
	return &SendGridSender{cfg: cfg}
}

func (s *SendGridSender) ProviderID() string {
	return "sendgrid"
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	// The client carries the request body, so each send gets its own.
	request := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", s.cfg.Host)
	request.Method = "POST"
	client := &sendgrid.Client{Request: request}

	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// FallbackSender tries the primary sender and falls back to the secondary on error.
type FallbackSender struct {
	primary   Sender
	secondary Sender
}

func NewFallbackSender(primary Sender, secondary Sender) *FallbackSender {
	return &FallbackSender{primary: primary, secondary: secondary}
}

// ProviderID reports the primary provider; SendVia reports the one actually used.
func (s *FallbackSender) ProviderID() string {
	return s.primary.ProviderID()
}

func (s *FallbackSender) Send(ctx context.Context, msg Message) error {
	_, err := s.SendVia(ctx, msg)
	return err
}

// SendVia returns the provider id that accepted the message.
func (s *FallbackSender) SendVia(ctx context.Context, msg Message) (string, error) {
	primaryErr := s.primary.Send(ctx, msg)
	if primaryErr == nil {
		return s.primary.ProviderID(), nil
	}
	if err := s.secondary.Send(ctx, msg); err != nil {
		return "", errors.Join(primaryErr, err)
	}
	return s.secondary.ProviderID(), nil
}

// Deliver sends msg and reports which provider accepted it.
func Deliver(ctx context.Context, s Sender, msg Message) (string, error) {
	if f, ok := s.(*FallbackSender); ok {
		return f.SendVia(ctx, msg)
	}
	if err := s.Send(ctx, msg); err != nil {
		return "", err
	}
	return s.ProviderID(), nil
}
