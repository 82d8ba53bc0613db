// Package events holds the Kafka topic names and payloads shared by producers and consumers.
package events

const (
	UserRegistered           = "auth.user.registered.v1"
	AppointmentCreated       = "booking.appointment.created.v1"
	AppointmentPaid          = "booking.appointment.paid.v1"
	AppointmentCanceled      = "booking.appointment.canceled.v1"
	AppointmentStatusChanged = "booking.appointment.status_changed.v1"
	ReminderDue              = "scheduler.reminder.due.v1"
	ReminderDLQ              = "scheduler.reminder.dlq.v1"
	NotificationSent         = "notification.sent.v1"
	NotificationFailed       = "notification.failed.v1"
)

// Appointment is published for every appointment state change.
type Appointment struct {
	AppointmentID       int64  `json:"appointment_id"`
	PatientID           string `json:"patient_id"`
	PatientName         string `json:"patient_name"`
	PatientEmail        string `json:"patient_email"`
	PatientPhone        string `json:"patient_phone,omitempty"`
	DoctorID            int64  `json:"doctor_id"`
	DoctorName          string `json:"doctor_name"`
	HospitalID          int64  `json:"hospital_id"`
	HospitalName        string `json:"hospital_name"`
	AppointmentDatetime string `json:"appointment_datetime"` // RFC3339
	Status              string `json:"status"`
	PreviousStatus      string `json:"previous_status,omitempty"`
	PaymentStatus       bool   `json:"payment_status"`
	PaymentMethod       string `json:"payment_method,omitempty"`
	PaymentAmount       string `json:"payment_amount"`
}

type UserRegisteredPayload struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	OTP       string `json:"otp"`
	ExpiresAt string `json:"expires_at"` // RFC3339
}

type ReminderDuePayload struct {
	JobID         int64          `json:"job_id"`
	AppointmentID int64          `json:"appointment_id"`
	Channel       string         `json:"channel"`
	Recipient     string         `json:"recipient"`
	RemindAt      string         `json:"remind_at"`
	TemplateData  map[string]any `json:"template_data"`
}

type NotificationResult struct {
	EventID       string `json:"event_id"`
	AppointmentID int64  `json:"appointment_id,omitempty"`
	Channel       string `json:"channel"`
	Template      string `json:"template"`
	Recipient     string `json:"recipient"`
	ProviderID    string `json:"provider_id,omitempty"`
	Error         string `json:"error,omitempty"`
}
