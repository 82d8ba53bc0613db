package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Terminal states admit no further transitions except a repeated cancel.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// ParseAdminStatus accepts the values an administrator may set. "cancelled" is an alias.
func ParseAdminStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "booked":
		return StatusBooked, true
	case "completed":
		return StatusCompleted, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

type Appointment struct {
	ID                   int64
	PatientID            string
	DoctorID             int64
	HospitalID           int64
	DateTime             time.Time
	Status               Status
	PaymentStatus        bool
	PaymentMethod        string
	PaymentTransactionID string
	PaymentAmount        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Parties names the people and places around an appointment, for event payloads.
type Parties struct {
	PatientName  string
	PatientEmail string
	PatientPhone string
	DoctorName   string
	HospitalName string
}
