package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v79/webhook"
)

const stripeWebhookPath = "/api/payments/webhooks/stripe"

type simulateOptions struct {
	BaseURL       string
	Secret        string
	EventType     string
	SessionID     string
	AppointmentID int64
	PaymentStatus string
	AmountMinor   int64
}

func newStripeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stripe",
		Short: "Stripe development helpers",
	}

	opts := simulateOptions{}
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post a signed checkout webhook to a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			status, err := postSignedWebhook(c.Context(), http.DefaultClient, opts, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "status=%d\n", status)
			return nil
		},
	}
	f := simulateCmd.Flags()
	f.StringVar(&opts.BaseURL, "base-url", "http://localhost:8080", "gateway base url")
	f.StringVar(&opts.Secret, "secret", "", "webhook signing secret (whsec_...)")
	f.StringVar(&opts.EventType, "type", "checkout.session.completed", "stripe event type")
	f.StringVar(&opts.SessionID, "session-id", "", "checkout session id stored on the appointment")
	f.Int64Var(&opts.AppointmentID, "appointment-id", 0, "appointment_id metadata")
	f.StringVar(&opts.PaymentStatus, "payment-status", "paid", "checkout payment_status")
	f.Int64Var(&opts.AmountMinor, "amount", 0, "amount_total in paisa; must equal the appointment fee to settle")
	_ = simulateCmd.MarkFlagRequired("session-id")

	cmd.AddCommand(simulateCmd)
	return cmd
}

func buildCheckoutEvent(eventID string, opts simulateOptions, at time.Time) ([]byte, error) {
	if !strings.HasPrefix(opts.EventType, "checkout.session.") {
		return nil, fmt.Errorf("unsupported event type: %s", opts.EventType)
	}
	metadata := map[string]string{}
	if opts.AppointmentID > 0 {
		metadata["appointment_id"] = strconv.FormatInt(opts.AppointmentID, 10)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     at.Unix(),
		"type":        opts.EventType,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":             opts.SessionID,
				"object":         "checkout.session",
				"payment_status": opts.PaymentStatus,
				"amount_total":   opts.AmountMinor,
				"metadata":       metadata,
			},
		},
	})
}

func postSignedWebhook(ctx context.Context, client *http.Client, opts simulateOptions, now time.Time) (int, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return 0, fmt.Errorf("--secret is required")
	}
	payload, err := buildCheckoutEvent(fmt.Sprintf("evt_test_%d", now.UnixNano()), opts, now)
	if err != nil {
		return 0, err
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.BaseURL, "/")+stripeWebhookPath, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
