package storage

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type Notification struct {
	EventID       string
	AppointmentID int64
	Channel       string
	Recipient     string
	Template      string
	Payload       any
	Status        string
	ProviderID    string
	Error         string
}

type Repository struct {
	pool   db.Conn
	outbox *outbox.Repository
}

func NewRepository(pool db.Conn, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// Record stores n and, unless it was skipped, enqueues the matching
// notification.sent or notification.failed event in the same transaction.
func (r *Repository) Record(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	if n.Payload == nil {
		payload = []byte("{}")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var appointmentID *int64
	if n.AppointmentID > 0 {
		appointmentID = &n.AppointmentID
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (event_id, appointment_id, channel, recipient, template, payload, status, provider_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.EventID, appointmentID, n.Channel, n.Recipient, n.Template, payload, n.Status, n.ProviderID, n.Error); err != nil {
		return err
	}

	if n.Status != StatusSkipped {
		evt, err := resultEvent(n)
		if err != nil {
			return err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func resultEvent(n Notification) (outbox.Event, error) {
	eventType := events.NotificationSent
	if n.Status == StatusFailed {
		eventType = events.NotificationFailed
	}
	aggregateID := n.EventID
	if n.AppointmentID > 0 {
		aggregateID = strconv.FormatInt(n.AppointmentID, 10)
	}
	return outbox.NewEvent("notification", aggregateID, eventType, events.NotificationResult{
		EventID:       n.EventID,
		AppointmentID: n.AppointmentID,
		Channel:       n.Channel,
		Template:      n.Template,
		Recipient:     n.Recipient,
		ProviderID:    n.ProviderID,
		Error:         n.Error,
	})
}
