package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	id   string
	err  error
	sent []Message
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) ProviderID() string { return f.id }

func TestBuildMessage(t *testing.T) {
	raw := buildMessage("no-reply@upachar.local", Message{To: "ram@example.com", ToName: "Ram", Subject: "Hi", Body: "Body"})
	assert.Contains(t, raw, "From: no-reply@upachar.local\r\n")
	assert.Contains(t, raw, "To: \"Ram\" <ram@example.com>\r\n")
	assert.Contains(t, raw, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nBody\r\n"))
}

func TestNewSendGridSenderNeedsKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}))
}

func TestSendGridSender(t *testing.T) {
	var got struct {
		Subject string `json:"subject"`
		From    struct {
			Email string `json:"email"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" || r.Header.Get("Authorization") != "Bearer sg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "sg-key", FromEmail: "care@upachar.local", Host: srv.URL})
	require.NotNil(t, s)
	err := s.Send(context.Background(), Message{To: "sita@example.com", Subject: "Your OTP", Body: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "Your OTP", got.Subject)
	assert.Equal(t, "care@upachar.local", got.From.Email)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "sita@example.com", got.Personalizations[0].To[0].Email)
}

func TestSendGridSenderRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSendGridSender(SendGridConfig{APIKey: "sg-key", Host: srv.URL})
	err := s.Send(context.Background(), Message{To: "sita@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFallbackSender(t *testing.T) {
	primary := &fakeSender{id: "sendgrid", err: errors.New("quota exceeded")}
	secondary := &fakeSender{id: "smtp"}
	s := NewFallbackSender(primary, secondary)

	provider, err := Deliver(context.Background(), s, Message{To: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", provider)
	assert.Len(t, secondary.sent, 1)

	primary.err = nil
	provider, err = Deliver(context.Background(), s, Message{To: "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", provider)

	primary.err = errors.New("down")
	secondary.err = errors.New("relay refused")
	_, err = Deliver(context.Background(), s, Message{To: "c@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Contains(t, err.Error(), "relay refused")
}

func TestDeliverPlainSender(t *testing.T) {
	s := &fakeSender{id: "smtp"}
	provider, err := Deliver(context.Background(), s, Message{To: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", provider)
}
