// Package emit writes appointment events to the outbox inside the caller's transaction.
package emit

import (
	"context"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

const aggregateType = "appointment"

// Appointment enqueues eventType for appt. previous is empty unless the status changed.
func Appointment(ctx context.Context, tx storage.Tx, eventType string, appt model.Appointment, previous model.Status) error {
	parties, err := tx.Parties(ctx, appt)
	if err != nil {
		return err
	}
	payload := events.Appointment{
		AppointmentID:       appt.ID,
		PatientID:           appt.PatientID,
		PatientName:         parties.PatientName,
		PatientEmail:        parties.PatientEmail,
		PatientPhone:        parties.PatientPhone,
		DoctorID:            appt.DoctorID,
		DoctorName:          parties.DoctorName,
		HospitalID:          appt.HospitalID,
		HospitalName:        parties.HospitalName,
		AppointmentDatetime: appt.DateTime.Format(time.RFC3339),
		Status:              string(appt.Status),
		PreviousStatus:      string(previous),
		PaymentStatus:       appt.PaymentStatus,
		PaymentMethod:       appt.PaymentMethod,
		PaymentAmount:       appt.PaymentAmount,
	}
	evt, err := outbox.NewEvent(aggregateType, strconv.FormatInt(appt.ID, 10), eventType, payload)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}
