// Package booking resolves free slots and creates pending appointments.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/emit"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

// ErrSlotTaken is reported as 400 to keep the established client contract.
var ErrSlotTaken = apperr.Conflict("This appointment slot is already taken.").WithStatus(400)

// ErrSlotNotOffered rejects a day or time outside the doctor's weekly template.
var ErrSlotNotOffered = apperr.Validation("The doctor is not available on this day and time.")

// TemplateSource yields a doctor's weekly template, or storage.ErrNotFound.
type TemplateSource interface {
	DoctorTemplate(ctx context.Context, doctorID int64) (availability.Template, error)
}

type Store interface {
	DoctorExists(ctx context.Context, id int64) (bool, error)
	HospitalExists(ctx context.Context, id int64) (bool, error)
	OccupiedTimes(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error)
	InTx(ctx context.Context, fn func(storage.Tx) error) error
}

type Engine struct {
	store     Store
	templates TemplateSource
	loc       *time.Location
	now       func() time.Time
	metrics   *metrics.Booking
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Booking) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine computing dates in loc, the clinic's timezone.
func NewEngine(store Store, templates TemplateSource, loc *time.Location, opts ...Option) *Engine {
	e := &Engine{store: store, templates: templates, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Location() *time.Location { return e.loc }

// AvailableSlots returns the doctor's free catalog times on date, ordered by clock time.
func (e *Engine) AvailableSlots(ctx context.Context, doctorID int64, date time.Time) ([]availability.Slot, error) {
	tpl, err := e.templates.DoctorTemplate(ctx, doctorID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Doctor not found.")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load doctor schedule", err)
	}
	if !tpl.WorksOn(date.Weekday()) {
		return []availability.Slot{}, nil
	}

	from, to := availability.DayBounds(date, e.loc)
	taken, err := e.store.OccupiedTimes(ctx, doctorID, from, to)
	if err != nil {
		return nil, apperr.Internal("failed to load appointments", err)
	}
	occupied := make([]string, 0, len(taken))
	for _, t := range taken {
		occupied = append(occupied, availability.ClockOf(t, e.loc))
	}
	return availability.FreeSlots(tpl, date, occupied), nil
}

type Request struct {
	PatientID  string
	DoctorID   int64
	HospitalID int64
	Day        string
	Time       string
}

// Book creates a pending appointment on the next occurrence of req.Day strictly after today.
// The day and time must be offered by the doctor's weekly template.
func (e *Engine) Book(ctx context.Context, req Request) (model.Appointment, error) {
	if req.DoctorID <= 0 || req.HospitalID <= 0 || req.Day == "" || req.Time == "" {
		return model.Appointment{}, apperr.Validation("doctor_id, hospital_id, day, and time are required.")
	}
	if err := e.checkExists(ctx, req.DoctorID, req.HospitalID); err != nil {
		return model.Appointment{}, err
	}
	day, err := availability.ParseWeekday(req.Day)
	if err != nil {
		return model.Appointment{}, apperr.Validation("Invalid day or time format provided.")
	}
	hour, minute, err := availability.ParseClock(req.Time)
	if err != nil {
		return model.Appointment{}, apperr.Validation("Invalid day or time format provided.")
	}
	tpl, err := e.templates.DoctorTemplate(ctx, req.DoctorID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("Doctor or Hospital not found.")
	}
	if err != nil {
		return model.Appointment{}, apperr.Internal("failed to load doctor schedule", err)
	}
	if !tpl.Offers(day, hour, minute) {
		e.metrics.ObserveBooking("not_offered")
		return model.Appointment{}, ErrSlotNotOffered
	}
	at := availability.NextOccurrence(e.now(), day, hour, minute, e.loc)

	appt := model.Appointment{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		HospitalID:    req.HospitalID,
		DateTime:      at,
		Status:        model.StatusPending,
		PaymentStatus: false,
		PaymentAmount: "0.00",
	}
	err = e.store.InTx(ctx, func(tx storage.Tx) error {
		taken, err := tx.HasBookedAt(ctx, req.DoctorID, at, 0)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		id, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		appt.ID = id
		return emit.Appointment(ctx, tx, events.AppointmentCreated, appt, "")
	})
	switch {
	case err == nil:
		e.metrics.ObserveBooking("created")
		return appt, nil
	case errors.Is(err, ErrSlotTaken), db.IsUniqueViolation(err), db.IsExclusionViolation(err):
		e.metrics.ObserveBooking("conflict")
		return model.Appointment{}, ErrSlotTaken
	default:
		e.metrics.ObserveBooking("error")
		return model.Appointment{}, apperr.Internal("failed to create appointment", err)
	}
}

func (e *Engine) checkExists(ctx context.Context, doctorID, hospitalID int64) error {
	doctorOK, err := e.store.DoctorExists(ctx, doctorID)
	if err != nil {
		return apperr.Internal("failed to load doctor", err)
	}
	hospitalOK, err := e.store.HospitalExists(ctx, hospitalID)
	if err != nil {
		return apperr.Internal("failed to load hospital", err)
	}
	if !doctorOK || !hospitalOK {
		return apperr.NotFound("Doctor or Hospital not found.")
	}
	return nil
}
