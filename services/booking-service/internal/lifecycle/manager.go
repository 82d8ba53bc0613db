// Package lifecycle moves appointments between states after booking.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/upachar/libs/access"
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
	errNotFound     = apperr.NotFound("Appointment not found.")
	errNotYours     = apperr.Forbidden("You are not authorized to manage this appointment.")
	errInvalidState = apperr.Validation("Invalid status. Allowed values: booked, completed, canceled.")
)

type Store interface {
	InTx(ctx context.Context, fn func(storage.Tx) error) error
}

type Manager struct {
	store   Store
	metrics *metrics.Booking
}

func NewManager(store Store, m *metrics.Booking) *Manager {
	return &Manager{store: store, metrics: m}
}

// Cancel marks the appointment canceled. The owner may always cancel; hospital admins may cancel
// appointments of their hospital. Other patients see the appointment as absent.
func (m *Manager) Cancel(ctx context.Context, id int64, c access.Capability) (model.Appointment, error) {
	if err := c.RequireUser(); err != nil {
		return model.Appointment{}, err
	}
	var out model.Appointment
	err := m.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.PatientID != c.UserID {
			switch {
			case c.Kind == access.Patient:
				return errNotFound
			case !c.CanManage(appt.HospitalID):
				return errNotYours
			}
		}
		out = appt
		if appt.Status == model.StatusCanceled {
			return nil
		}
		return m.transition(ctx, tx, &out, model.StatusCanceled)
	})
	if err != nil {
		return model.Appointment{}, wrap(err)
	}
	return out, nil
}

// SetStatus applies an administrator's status change. Setting the current status is a no-op.
func (m *Manager) SetStatus(ctx context.Context, id int64, raw string, c access.Capability) (model.Appointment, error) {
	if err := c.RequireAdmin(); err != nil {
		return model.Appointment{}, err
	}
	if id <= 0 {
		return model.Appointment{}, apperr.Validation("appointment_id is required.")
	}
	next, ok := model.ParseAdminStatus(raw)
	if !ok {
		return model.Appointment{}, errInvalidState
	}

	var out model.Appointment
	err := m.store.InTx(ctx, func(tx storage.Tx) error {
		appt, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !c.CanManage(appt.HospitalID) {
			return errNotYours
		}
		out = appt
		if appt.Status == next {
			return nil
		}
		if err := allowed(appt, next); err != nil {
			return err
		}
		if next == model.StatusBooked {
			taken, err := tx.HasBookedAt(ctx, appt.DoctorID, appt.DateTime, appt.ID)
			if err != nil {
				return err
			}
			if taken {
				return booking.ErrSlotTaken
			}
		}
		return m.transition(ctx, tx, &out, next)
	})
	if err != nil {
		return model.Appointment{}, wrap(err)
	}
	return out, nil
}

// allowed encodes pending -> booked (paid only) -> {completed, canceled} and pending -> canceled.
func allowed(appt model.Appointment, next model.Status) error {
	if appt.Status.Terminal() {
		return apperr.Conflict(fmt.Sprintf("Cannot change the status of a %s appointment.", appt.Status))
	}
	switch {
	case appt.Status == model.StatusPending && next == model.StatusBooked && !appt.PaymentStatus:
		return apperr.Conflict("Appointment cannot be booked before payment.")
	case appt.Status == model.StatusPending && next == model.StatusCompleted:
		return apperr.Conflict("Only booked appointments can be completed.")
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, tx storage.Tx, appt *model.Appointment, next model.Status) error {
	previous := appt.Status
	if err := tx.SetStatus(ctx, appt.ID, next); err != nil {
		return err
	}
	appt.Status = next
	eventType := events.AppointmentStatusChanged
	if next == model.StatusCanceled {
		eventType = events.AppointmentCanceled
	}
	if err := emit.Appointment(ctx, tx, eventType, *appt, previous); err != nil {
		return err
	}
	m.metrics.ObserveTransition(string(previous), string(next))
	return nil
}

func load(ctx context.Context, tx storage.Tx, id int64) (model.Appointment, error) {
	appt, err := tx.AppointmentForUpdate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, errNotFound
	}
	return appt, err
}

func wrap(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case db.IsUniqueViolation(err), db.IsExclusionViolation(err):
		return booking.ErrSlotTaken
	default:
		return apperr.Internal("failed to update appointment", err)
	}
}
