package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/payment"
)

const maxWebhookBody = 64 << 10

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	var req appointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	form, err := h.payments.Initiate(r.Context(), int64(req.AppointmentID), c.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, form)
}

type verifyRequest struct {
	TransactionUUID string `json:"transaction_uuid"`
	Data            string `json:"data"`
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.payments.Verify(r.Context(), payment.VerifyRequest{
		TransactionUUID: strings.TrimSpace(req.TransactionUUID),
		Data:            strings.TrimSpace(req.Data),
	}, c.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if !res.AlreadyVerified {
		h.logger.Info("payment verified", "appointment_id", res.Appointment.ID, "method", res.Appointment.PaymentMethod)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": res.Message})
}

func (h *Handler) InitiateCardPayment(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	var req appointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	checkout, err := h.payments.InitiateCard(r.Context(), int64(req.AppointmentID), c.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkout)
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, r, h.logger, apperr.Validation("payload too large").WithStatus(http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(w, r, h.logger, apperr.Validation("failed to read request body"))
		return
	}

	res, err := h.payments.SettleStripe(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	switch res.Outcome {
	case payment.SettleConflict:
		h.logger.Warn("stripe payment for a taken slot", "provider_event_id", res.EventID, "appointment_id", res.AppointmentID)
	case payment.SettleDuplicate:
		h.logger.Info("stripe event duplicate ignored", "provider_event_id", res.EventID)
	default:
		h.logger.Info("stripe event processed", "provider_event_id", res.EventID, "outcome", res.Outcome, "appointment_id", res.AppointmentID)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
}
