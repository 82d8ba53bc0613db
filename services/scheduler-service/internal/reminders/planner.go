// Package reminders turns appointment events into reminder jobs.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/kafkax"
	"github.com/md-rashed-zaman/upachar/services/scheduler-service/internal/jobs"
	"github.com/segmentio/kafka-go"
)

// DefaultLeads schedules a reminder a day ahead and another an hour ahead.
var DefaultLeads = []time.Duration{24 * time.Hour, time.Hour}

type Planner struct {
	pool   db.Conn
	repo   *jobs.Repository
	leads  []time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewPlanner(pool db.Conn, repo *jobs.Repository, leads []time.Duration, logger *slog.Logger, now func() time.Time) *Planner {
	if len(leads) == 0 {
		leads = DefaultLeads
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{pool: pool, repo: repo, leads: leads, logger: logger, now: now}
}

func (p *Planner) Handlers() map[string]kafkax.Handler {
	return map[string]kafkax.Handler{
		events.AppointmentPaid:          p.HandlePaid,
		events.AppointmentCanceled:      p.HandleCanceled,
		events.AppointmentStatusChanged: p.HandleStatusChanged,
	}
}

// HandlePaid schedules one job per lead time and channel. Lead times already in the past are skipped.
func (p *Planner) HandlePaid(ctx context.Context, msg kafka.Message) error {
	a, ok := p.decode(msg)
	if !ok {
		return nil
	}
	at, err := time.Parse(time.RFC3339, a.AppointmentDatetime)
	if err != nil {
		p.logger.Error("invalid appointment_datetime", "err", err, "appointment_id", a.AppointmentID)
		return nil
	}

	planned := Plan(a, at, p.leads, p.now())
	if len(planned) == 0 {
		p.logger.Info("no reminders to schedule", "appointment_id", a.AppointmentID)
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := 0
	for _, job := range planned {
		inserted, err := p.repo.Insert(ctx, tx, job)
		if err != nil {
			return err
		}
		if inserted {
			created++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("reminders scheduled", "appointment_id", a.AppointmentID, "created", created, "planned", len(planned))
	return nil
}

func (p *Planner) HandleCanceled(ctx context.Context, msg kafka.Message) error {
	a, ok := p.decode(msg)
	if !ok {
		return nil
	}
	return p.cancel(ctx, a.AppointmentID, "canceled")
}

// HandleStatusChanged stops reminders once an appointment is completed.
func (p *Planner) HandleStatusChanged(ctx context.Context, msg kafka.Message) error {
	a, ok := p.decode(msg)
	if !ok {
		return nil
	}
	if a.Status != "completed" && a.Status != "canceled" {
		return nil
	}
	return p.cancel(ctx, a.AppointmentID, a.Status)
}

func (p *Planner) cancel(ctx context.Context, appointmentID int64, reason string) error {
	n, err := p.repo.CancelForAppointment(ctx, p.pool, appointmentID)
	if err != nil {
		return err
	}
	p.logger.Info("reminders canceled", "appointment_id", appointmentID, "count", n, "reason", reason)
	return nil
}

func (p *Planner) decode(msg kafka.Message) (events.Appointment, bool) {
	var a events.Appointment
	if err := json.Unmarshal(msg.Value, &a); err != nil {
		p.logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
		return a, false
	}
	if a.AppointmentID <= 0 {
		p.logger.Error("appointment event missing id", "topic", msg.Topic)
		return a, false
	}
	return a, true
}

// Plan lists the reminder jobs for an appointment at the given time.
func Plan(a events.Appointment, at time.Time, leads []time.Duration, now time.Time) []jobs.Job {
	recipients := []struct{ channel, to string }{
		{"email", a.PatientEmail},
		{"sms", a.PatientPhone},
	}

	var out []jobs.Job
	for _, lead := range leads {
		remindAt := at.Add(-lead).UTC()
		if !remindAt.After(now) {
			continue
		}
		for _, r := range recipients {
			if r.to == "" {
				continue
			}
			out = append(out, jobs.Job{
				IdempotencyKey: IdempotencyKey(a.AppointmentID, remindAt, r.channel),
				AppointmentID:  a.AppointmentID,
				Channel:        r.channel,
				Recipient:      r.to,
				RemindAt:       remindAt,
				TemplateData: map[string]any{
					"patient_name":         a.PatientName,
					"doctor_name":          a.DoctorName,
					"hospital_name":        a.HospitalName,
					"appointment_datetime": a.AppointmentDatetime,
					"lead":                 LeadLabel(lead),
				},
			})
		}
	}
	return out
}

func IdempotencyKey(appointmentID int64, remindAt time.Time, channel string) string {
	return fmt.Sprintf("%d|%s|%s", appointmentID, remindAt.UTC().Format(time.RFC3339), channel)
}

// LeadLabel renders a lead time for templates, e.g. "in 24 hours".
func LeadLabel(lead time.Duration) string {
	switch {
	case lead == time.Hour:
		return "in 1 hour"
	case lead%time.Hour == 0:
		return fmt.Sprintf("in %d hours", int(lead.Hours()))
	default:
		return fmt.Sprintf("in %d minutes", int(lead.Minutes()))
	}
}
