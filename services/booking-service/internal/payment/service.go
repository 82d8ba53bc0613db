// Package payment initiates and settles appointment payments through eSewa and Stripe.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/emit"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

var (
	errNotOwned        = apperr.NotFound("Appointment not found.")
	errNoTransaction   = apperr.NotFound("Appointment for this transaction not found.")
	errAlreadyPaid     = apperr.Conflict("Appointment is already paid.")
	errNotPayable      = apperr.Conflict("Appointment can no longer be paid.")
	errCardUnavailable = apperr.Validation("Card payments are not configured.").WithStatus(501)
)

type Store interface {
	InTx(ctx context.Context, fn func(storage.Tx) error) error
}

// FeeSource resolves the fee for a doctor at a hospital. When unset the fee is read
// inside the payment transaction.
type FeeSource interface {
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
}

type Service struct {
	store    Store
	esewa    EsewaConfig
	card     CardGateway
	fees     FeeSource
	newToken func() string
	metrics  *metrics.Booking
}

type Option func(*Service)

func WithCardGateway(g CardGateway) Option {
	return func(s *Service) { s.card = g }
}

func WithFeeSource(f FeeSource) Option {
	return func(s *Service) { s.fees = f }
}

func WithMetrics(m *metrics.Booking) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTokenSource overrides transaction token generation.
func WithTokenSource(fn func() string) Option {
	return func(s *Service) { s.newToken = fn }
}

func NewService(store Store, esewa EsewaConfig, opts ...Option) *Service {
	s := &Service{
		store:    store,
		esewa:    esewa.withDefaults(),
		newToken: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CardEnabled reports whether a card gateway is configured.
func (s *Service) CardEnabled() bool { return s.card != nil }

func (s *Service) fee(ctx context.Context, tx storage.Tx, appt model.Appointment) (string, error) {
	if s.fees != nil {
		return s.fees.EffectiveFee(ctx, appt.DoctorID, appt.HospitalID)
	}
	return tx.EffectiveFee(ctx, appt.DoctorID, appt.HospitalID)
}

// payable loads an appointment owned by patientID that can still be paid.
func payable(ctx context.Context, tx storage.Tx, appointmentID int64, patientID string) (model.Appointment, error) {
	appt, err := tx.AppointmentForUpdate(ctx, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, errNotOwned
	}
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.PatientID != patientID {
		return model.Appointment{}, errNotOwned
	}
	if appt.PaymentStatus {
		return model.Appointment{}, errAlreadyPaid
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, errNotPayable
	}
	return appt, nil
}

// Initiate issues a fresh transaction token and returns the signed eSewa form.
func (s *Service) Initiate(ctx context.Context, appointmentID int64, patientID string) (EsewaRequest, error) {
	if appointmentID <= 0 {
		return EsewaRequest{}, apperr.Validation("Appointment ID is required.")
	}
	var out EsewaRequest
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := payable(ctx, tx, appointmentID, patientID)
		if err != nil {
			return err
		}
		fee, err := s.fee(ctx, tx, appt)
		if err != nil {
			return err
		}
		token := s.newToken()
		if err := tx.SetTransactionToken(ctx, appt.ID, token); err != nil {
			return err
		}
		out = buildEsewaRequest(s.esewa, fee, token)
		return nil
	})
	if err != nil {
		s.metrics.ObservePayment(esewaMethod, "initiate", "error")
		return EsewaRequest{}, wrap(err, "failed to initiate payment")
	}
	s.metrics.ObservePayment(esewaMethod, "initiate", "ok")
	return out, nil
}

type VerifyRequest struct {
	TransactionUUID string
	// Data is the base64 payload eSewa appends to the success redirect.
	Data string
}

type VerifyResult struct {
	Message         string
	Appointment     model.Appointment
	AlreadyVerified bool
}

// Verify settles an eSewa payment. Repeating it for a paid appointment changes nothing.
func (s *Service) Verify(ctx context.Context, req VerifyRequest, patientID string) (VerifyResult, error) {
	token := req.TransactionUUID
	var cb *EsewaCallback
	if req.Data != "" {
		decoded, err := DecodeEsewaCallback(req.Data, s.esewa.SecretKey)
		switch {
		case errors.Is(err, ErrPaymentIncomplete):
			s.metrics.ObservePayment(esewaMethod, "verify", "incomplete")
			return VerifyResult{}, apperr.Validation("Payment was not completed.")
		case err != nil:
			s.metrics.ObservePayment(esewaMethod, "verify", "bad_signature")
			return VerifyResult{}, apperr.Validation("Invalid payment confirmation.")
		}
		if token == "" {
			token = decoded.TransactionUUID
		}
		if decoded.TransactionUUID != token {
			return VerifyResult{}, apperr.Validation("Transaction UUID does not match the payment confirmation.")
		}
		cb = &decoded
	} else if s.esewa.RequireSignedCallback {
		return VerifyResult{}, apperr.Validation("Signed payment confirmation is required.")
	}
	if token == "" {
		return VerifyResult{}, apperr.Validation("Transaction UUID is required.")
	}

	var res VerifyResult
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := tx.AppointmentByTransaction(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return errNoTransaction
		}
		if err != nil {
			return err
		}
		if appt.PatientID != patientID {
			return errNoTransaction
		}
		if appt.PaymentStatus {
			res = VerifyResult{Message: "Payment already verified.", Appointment: appt, AlreadyVerified: true}
			return nil
		}
		if appt.Status.Terminal() {
			return errNotPayable
		}
		fee, err := s.fee(ctx, tx, appt)
		if err != nil {
			return err
		}
		if cb != nil && !SameAmount(cb.TotalAmount, fee) {
			return apperr.Validation("Payment amount does not match the appointment fee.")
		}
		paid, err := settle(ctx, tx, appt, esewaMethod, fee)
		if err != nil {
			return err
		}
		res = VerifyResult{Message: "Payment verified successfully.", Appointment: paid}
		return nil
	})
	if err != nil {
		s.metrics.ObservePayment(esewaMethod, "verify", outcome(err))
		return VerifyResult{}, wrap(err, "failed to verify payment")
	}
	if res.AlreadyVerified {
		s.metrics.ObservePayment(esewaMethod, "verify", "duplicate")
	} else {
		s.metrics.ObservePayment(esewaMethod, "verify", "ok")
	}
	return res, nil
}

// settle marks appt paid and booked, then records the paid event.
func settle(ctx context.Context, tx storage.Tx, appt model.Appointment, method, amount string) (model.Appointment, error) {
	taken, err := tx.HasBookedAt(ctx, appt.DoctorID, appt.DateTime, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if taken {
		return model.Appointment{}, booking.ErrSlotTaken
	}
	if err := tx.MarkPaid(ctx, appt.ID, method, amount); err != nil {
		return model.Appointment{}, err
	}
	previous := appt.Status
	appt.PaymentStatus = true
	appt.PaymentMethod = method
	appt.PaymentAmount = amount
	appt.Status = model.StatusBooked
	if err := emit.Appointment(ctx, tx, events.AppointmentPaid, appt, previous); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, booking.ErrSlotTaken), db.IsUniqueViolation(err):
		return "conflict"
	case apperr.Is(err, apperr.KindInternal):
		return "error"
	default:
		return "rejected"
	}
}

// wrap keeps domain errors and maps storage failures to the slot conflict or an internal error.
func wrap(err error, msg string) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case db.IsUniqueViolation(err), db.IsExclusionViolation(err):
		return booking.ErrSlotTaken
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("Doctor or Hospital not found.")
	default:
		return apperr.Internal(msg, fmt.Errorf("payment: %w", err))
	}
}
