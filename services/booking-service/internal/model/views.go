package model

import "time"

type PatientAppointment struct {
	ID              int64
	DoctorName      string
	DoctorPhoto     string
	DoctorSpecialty *string
	DoctorAddress   string
	DateTime        time.Time
	Status          Status
	PaymentStatus   bool
}

type AdminAppointment struct {
	ID            int64
	PatientID     string
	PatientName   string
	PatientEmail  string
	DoctorID      int64
	DoctorName    string
	DoctorPhoto   string
	DoctorFee     string
	HospitalName  string
	DateTime      time.Time
	Status        Status
	PaymentStatus bool
	PaymentMethod string
	PaymentAmount string
}

type AppointmentFilter struct {
	HospitalID    int64 // 0 selects every hospital
	DoctorID      int64
	Status        string
	PaymentStatus *bool
}

type DashboardStats struct {
	HospitalName    string
	TodayCount      int
	UpcomingCount   int
	TodayRevenue    string
	PendingPayments int
	TodaysSchedule  []AdminAppointment
}

type CountByLabel struct {
	Label string
	Count int
}

type DashboardCharts struct {
	ByDoctor []CountByLabel
	ByStatus []CountByLabel
}
