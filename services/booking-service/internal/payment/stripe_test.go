package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSignature(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeGatewayParseWebhook(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_test"})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "2020-08-27",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"amount_total": 50000,
			"metadata": {"appointment_id": "42"}
		}}
	}`)

	evt, err := gw.ParseWebhook(payload, stripeSignature("whsec_test", payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	assert.Equal(t, "cs_test_1", evt.SessionID)
	assert.Equal(t, "paid", evt.PaymentStatus)
	assert.Equal(t, int64(42), evt.AppointmentID)
	assert.Equal(t, int64(50000), evt.AmountTotal)

	_, err = gw.ParseWebhook(payload, stripeSignature("whsec_other", payload, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidWebhook)

	_, err = gw.ParseWebhook(payload, stripeSignature("whsec_test", payload, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidWebhook, "stale timestamp")
}

func TestStripeGatewayWithoutSecret(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test"})
	_, err := gw.ParseWebhook([]byte(`{}`), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrInvalidWebhook)
}
