package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

const (
	stripeMethod   = "Stripe"
	stripeProvider = "stripe"

	EventCheckoutCompleted = "checkout.session.completed"
)

var ErrInvalidWebhook = errors.New("invalid webhook signature")

type CheckoutRequest struct {
	AppointmentID int64
	AmountMinor   int64
	Description   string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// WebhookEvent is the subset of a provider event needed to settle a payment.
type WebhookEvent struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
	AppointmentID int64
	AmountTotal   int64
}

// CardGateway creates hosted checkout sessions and authenticates their webhooks.
type CardGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

type CardCheckout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"checkout_url"`
	Amount    string `json:"amount"`
}

// InitiateCard opens a checkout session for the appointment fee. The session id becomes the
// appointment's transaction token.
func (s *Service) InitiateCard(ctx context.Context, appointmentID int64, patientID string) (CardCheckout, error) {
	if s.card == nil {
		return CardCheckout{}, errCardUnavailable
	}
	if appointmentID <= 0 {
		return CardCheckout{}, apperr.Validation("Appointment ID is required.")
	}

	var (
		appt model.Appointment
		fee  string
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		if appt, err = payable(ctx, tx, appointmentID, patientID); err != nil {
			return err
		}
		fee, err = s.fee(ctx, tx, appt)
		return err
	})
	if err != nil {
		s.metrics.ObservePayment(stripeMethod, "initiate", "error")
		return CardCheckout{}, wrap(err, "failed to initiate payment")
	}
	minor, err := MinorUnits(fee)
	if err != nil {
		return CardCheckout{}, apperr.Internal("failed to initiate payment", fmt.Errorf("fee %q: %w", fee, err))
	}

	sess, err := s.card.CreateCheckout(ctx, CheckoutRequest{
		AppointmentID: appt.ID,
		AmountMinor:   minor,
		Description:   fmt.Sprintf("Appointment #%d", appt.ID),
	})
	if err != nil {
		s.metrics.ObservePayment(stripeMethod, "initiate", "error")
		return CardCheckout{}, apperr.Internal("failed to create checkout session", err)
	}

	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := payable(ctx, tx, appointmentID, patientID); err != nil {
			return err
		}
		return tx.SetTransactionToken(ctx, appt.ID, sess.ID)
	})
	if err != nil {
		s.metrics.ObservePayment(stripeMethod, "initiate", "error")
		return CardCheckout{}, wrap(err, "failed to initiate payment")
	}
	s.metrics.ObservePayment(stripeMethod, "initiate", "ok")
	return CardCheckout{SessionID: sess.ID, URL: sess.URL, Amount: fee}, nil
}

type SettleOutcome string

const (
	SettlePaid      SettleOutcome = "paid"
	SettleDuplicate SettleOutcome = "duplicate"
	SettleIgnored   SettleOutcome = "ignored"
	SettleConflict  SettleOutcome = "conflict"
	// SettleMismatch marks a paid session whose amount or appointment reference disagrees
	// with the appointment holding it. It is recorded and acknowledged but never books.
	SettleMismatch SettleOutcome = "mismatch"
)

type SettleResult struct {
	Outcome       SettleOutcome
	EventID       string
	AppointmentID int64
}

// SettleStripe applies a signed webhook delivery. Each provider event id is applied at most
// once; unknown sessions and slot conflicts are recorded and acknowledged.
func (s *Service) SettleStripe(ctx context.Context, payload []byte, signature string) (SettleResult, error) {
	if s.card == nil {
		return SettleResult{}, errCardUnavailable
	}
	evt, err := s.card.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.ObservePayment(stripeMethod, "webhook", "bad_signature")
		return SettleResult{}, apperr.Validation("Invalid webhook signature.")
	}

	res, err := s.settleCheckout(ctx, evt, payload)
	if err != nil {
		s.metrics.ObservePayment(stripeMethod, "webhook", "error")
		return SettleResult{}, err
	}
	s.metrics.ObservePayment(stripeMethod, "webhook", string(res.Outcome))
	return res, nil
}

// settleCheckout records evt under its provider id and books the appointment holding the
// session when the checkout is paid in full for that appointment.
func (s *Service) settleCheckout(ctx context.Context, evt WebhookEvent, payload []byte) (SettleResult, error) {
	res := SettleResult{Outcome: SettleIgnored, EventID: evt.ID}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		first, err := tx.RecordProviderEvent(ctx, stripeProvider, evt.ID, evt.Type, payload)
		if err != nil {
			return err
		}
		if !first {
			res.Outcome = SettleDuplicate
			return nil
		}
		if evt.Type != EventCheckoutCompleted || evt.PaymentStatus != "paid" {
			return nil
		}
		appt, err := tx.AppointmentByTransaction(ctx, evt.SessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res.AppointmentID = appt.ID
		if appt.PaymentStatus {
			res.Outcome = SettleDuplicate
			return nil
		}
		if evt.AppointmentID != 0 && evt.AppointmentID != appt.ID {
			res.Outcome = SettleMismatch
			return nil
		}
		fee, err := s.fee(ctx, tx, appt)
		if err != nil {
			return err
		}
		minor, err := MinorUnits(fee)
		if err != nil {
			return fmt.Errorf("fee %q: %w", fee, err)
		}
		if evt.AmountTotal != minor {
			res.Outcome = SettleMismatch
			return nil
		}
		if _, err := settle(ctx, tx, appt, stripeMethod, fee); err != nil {
			if errors.Is(err, booking.ErrSlotTaken) {
				res.Outcome = SettleConflict
				return nil
			}
			return err
		}
		res.Outcome = SettlePaid
		return nil
	})
	if err != nil {
		return SettleResult{}, wrap(err, "failed to settle payment")
	}
	return res, nil
}
