// Package dispatch turns domain events into patient emails and SMS messages and records the outcome.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/kafkax"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Recorder interface {
	Record(ctx context.Context, n storage.Notification) error
}

type Dispatcher struct {
	store  Recorder
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger
	loc    *time.Location
}

func New(store Recorder, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, email: emailSender, sms: smsSender, logger: logger, loc: loc}
}

// Handlers maps each consumed topic to its handler.
func (d *Dispatcher) Handlers() map[string]kafkax.Handler {
	return map[string]kafkax.Handler{
		events.UserRegistered:      d.HandleUserRegistered,
		events.AppointmentPaid:     d.HandleAppointmentPaid,
		events.AppointmentCanceled: d.HandleAppointmentCanceled,
		events.ReminderDue:         d.HandleReminderDue,
	}
}

// delivery is one message to one recipient on one channel.
type delivery struct {
	eventID       string
	appointmentID int64
	channel       string
	recipient     string
	template      string
	view          view
	payload       any
}

func (d *Dispatcher) HandleUserRegistered(ctx context.Context, msg kafka.Message) error {
	var p events.UserRegisteredPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		d.logger.Error("invalid user registered payload", "err", err)
		return nil
	}
	if p.Email == "" || p.OTP == "" {
		d.logger.Error("user registered event missing email or otp", "user_id", p.UserID)
		return nil
	}
	return d.deliver(ctx, delivery{
		eventID:   kafkax.ExtractEventMeta(msg).EventID,
		channel:   ChannelEmail,
		recipient: p.Email,
		template:  TemplateOTP,
		view:      view{Name: p.Name, OTP: p.OTP, Expires: d.clock(p.ExpiresAt)},
		// The code itself never reaches the notifications table.
		payload: map[string]any{"user_id": p.UserID, "expires_at": p.ExpiresAt},
	})
}

func (d *Dispatcher) HandleAppointmentPaid(ctx context.Context, msg kafka.Message) error {
	return d.handleAppointment(ctx, msg, TemplateConfirmed)
}

func (d *Dispatcher) HandleAppointmentCanceled(ctx context.Context, msg kafka.Message) error {
	return d.handleAppointment(ctx, msg, TemplateCanceled)
}

func (d *Dispatcher) handleAppointment(ctx context.Context, msg kafka.Message, tmpl string) error {
	var a events.Appointment
	if err := json.Unmarshal(msg.Value, &a); err != nil {
		d.logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if a.AppointmentID <= 0 {
		d.logger.Error("appointment event missing id", "topic", msg.Topic)
		return nil
	}
	v := view{
		Name:     a.PatientName,
		Doctor:   a.DoctorName,
		Hospital: a.HospitalName,
		When:     d.when(a.AppointmentDatetime),
		Amount:   a.PaymentAmount,
		Method:   a.PaymentMethod,
	}
	base := delivery{
		eventID:       kafkax.ExtractEventMeta(msg).EventID,
		appointmentID: a.AppointmentID,
		template:      tmpl,
		view:          v,
		payload:       a,
	}

	out := base
	out.channel, out.recipient = ChannelEmail, a.PatientEmail
	if err := d.deliver(ctx, out); err != nil {
		return err
	}
	if a.PatientPhone == "" {
		return nil
	}
	out = base
	out.channel, out.recipient = ChannelSMS, a.PatientPhone
	return d.deliver(ctx, out)
}

func (d *Dispatcher) HandleReminderDue(ctx context.Context, msg kafka.Message) error {
	var p events.ReminderDuePayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		d.logger.Error("invalid reminder payload", "err", err)
		return nil
	}
	if p.AppointmentID <= 0 || p.Channel == "" || p.RemindAt == "" {
		d.logger.Error("missing reminder fields", "job_id", p.JobID)
		return nil
	}
	if _, err := time.Parse(time.RFC3339, p.RemindAt); err != nil {
		d.logger.Error("invalid remind_at", "err", err, "job_id", p.JobID)
		return nil
	}
	return d.deliver(ctx, delivery{
		eventID:       kafkax.ExtractEventMeta(msg).EventID,
		appointmentID: p.AppointmentID,
		channel:       strings.ToLower(p.Channel),
		recipient:     p.Recipient,
		template:      TemplateReminder,
		view: view{
			Name:     stringField(p.TemplateData, "patient_name"),
			Doctor:   stringField(p.TemplateData, "doctor_name"),
			Hospital: stringField(p.TemplateData, "hospital_name"),
			When:     d.when(stringField(p.TemplateData, "appointment_datetime")),
			Lead:     stringField(p.TemplateData, "lead"),
		},
		payload: p.TemplateData,
	})
}

// deliver sends one message and records the outcome. Send failures are recorded, not retried;
// only a failed write is returned to the consumer.
func (d *Dispatcher) deliver(ctx context.Context, dl delivery) error {
	n := storage.Notification{
		EventID:       dl.eventID,
		AppointmentID: dl.appointmentID,
		Channel:       dl.channel,
		Recipient:     dl.recipient,
		Template:      dl.template,
		Payload:       dl.payload,
		Status:        storage.StatusSent,
	}

	if strings.TrimSpace(dl.recipient) == "" {
		n.Status = storage.StatusSkipped
		n.Error = "no recipient"
	} else if provider, err := d.send(ctx, dl); err != nil {
		n.Status = storage.StatusFailed
		n.Error = err.Error()
		d.logger.Error("notification send failed", "err", err, "channel", dl.channel, "template", dl.template)
	} else {
		n.ProviderID = provider
	}

	if err := d.store.Record(ctx, n); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}
	d.logger.Info("notification processed",
		"template", dl.template,
		"channel", dl.channel,
		"appointment_id", dl.appointmentID,
		"status", n.Status,
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, dl delivery) (string, error) {
	c, ok := templates[dl.template]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", dl.template)
	}
	switch dl.channel {
	case ChannelEmail:
		subject, err := execute(c.subject, dl.view)
		if err != nil {
			return "", err
		}
		body, err := execute(c.email, dl.view)
		if err != nil {
			return "", err
		}
		return email.Deliver(ctx, d.email, email.Message{To: dl.recipient, ToName: dl.view.Name, Subject: subject, Body: body})
	case ChannelSMS:
		body, err := execute(c.sms, dl.view)
		if err != nil {
			return "", err
		}
		if err := d.sms.Send(ctx, dl.recipient, body); err != nil {
			return "", err
		}
		return d.sms.ProviderID(), nil
	default:
		return "", fmt.Errorf("unsupported channel: %s", dl.channel)
	}
}

// when renders an RFC3339 timestamp in the clinic's zone, passing anything else through.
func (d *Dispatcher) when(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.In(d.loc).Format("Monday, 02 Jan 2006 at 03:04 PM")
}

func (d *Dispatcher) clock(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.In(d.loc).Format("03:04 PM")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
