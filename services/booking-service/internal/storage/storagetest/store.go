// Package storagetest provides an in-memory store with the same uniqueness rules as the
// appointments schema, for engine and handler tests.
package storagetest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

type Doctor struct {
	Name     string
	Fee      string
	Template availability.Template
}

type User struct {
	Name  string
	Email string
}

type Store struct {
	mu sync.Mutex

	doctors   map[int64]Doctor
	hospitals map[int64]string
	opd       map[[2]int64]string
	users     map[string]User

	appts          map[int64]model.Appointment
	nextID         int64
	events         []outbox.Event
	providerEvents map[string]bool
}

func New() *Store {
	return &Store{
		doctors:        map[int64]Doctor{},
		hospitals:      map[int64]string{},
		opd:            map[[2]int64]string{},
		users:          map[string]User{},
		appts:          map[int64]model.Appointment{},
		providerEvents: map[string]bool{},
	}
}

func (s *Store) AddDoctor(id int64, d Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[id] = d
}

func (s *Store) AddHospital(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hospitals[id] = name
}

func (s *Store) SetOPDCharge(doctorID, hospitalID int64, fee string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opd[[2]int64{doctorID, hospitalID}] = fee
}

func (s *Store) AddUser(id string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = u
}

// Put stores appt as is and returns its id.
func (s *Store) Put(appt model.Appointment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	appt.ID = s.nextID
	s.appts[appt.ID] = appt
	return appt.ID
}

func (s *Store) Appointment(id int64) (model.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	return a, ok
}

// Events returns the outbox events committed so far.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *Store) EventTypes() []string {
	var out []string
	for _, e := range s.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	appts := make(map[int64]model.Appointment, len(s.appts))
	for k, v := range s.appts {
		appts[k] = v
	}
	provider := make(map[string]bool, len(s.providerEvents))
	for k, v := range s.providerEvents {
		provider[k] = v
	}
	nextID, events := s.nextID, len(s.events)

	if err := fn(&tx{s: s}); err != nil {
		s.appts, s.providerEvents, s.nextID, s.events = appts, provider, nextID, s.events[:events]
		return err
	}
	return nil
}

func (s *Store) DoctorExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doctors[id]
	return ok, nil
}

func (s *Store) HospitalExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hospitals[id]
	return ok, nil
}

func (s *Store) DoctorTemplate(_ context.Context, id int64) (availability.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return availability.Template{}, storage.ErrNotFound
	}
	return d.Template, nil
}

func (s *Store) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s: s}).EffectiveFee(ctx, doctorID, hospitalID)
}

func (s *Store) OccupiedTimes(_ context.Context, doctorID int64, from, to time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []time.Time
	for _, a := range s.appts {
		if a.DoctorID != doctorID || a.Status == model.StatusCanceled {
			continue
		}
		if !a.DateTime.Before(from) && a.DateTime.Before(to) {
			out = append(out, a.DateTime)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) PatientAppointments(_ context.Context, patientID string) ([]model.PatientAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.PatientAppointment{}
	for _, a := range s.sorted() {
		if a.PatientID != patientID {
			continue
		}
		out = append(out, model.PatientAppointment{
			ID:            a.ID,
			DoctorName:    s.doctors[a.DoctorID].Name,
			DateTime:      a.DateTime,
			Status:        a.Status,
			PaymentStatus: a.PaymentStatus,
		})
	}
	return out, nil
}

func (s *Store) HospitalAppointments(_ context.Context, f model.AppointmentFilter) ([]model.AdminAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AdminAppointment{}
	for _, a := range s.sorted() {
		if f.HospitalID != 0 && a.HospitalID != f.HospitalID {
			continue
		}
		if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
			continue
		}
		if f.Status != "" && string(a.Status) != f.Status {
			continue
		}
		if f.PaymentStatus != nil && a.PaymentStatus != *f.PaymentStatus {
			continue
		}
		out = append(out, s.admin(a))
	}
	return out, nil
}

func (s *Store) DashboardStats(_ context.Context, hospitalID int64, dayStart time.Time) (model.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.hospitals[hospitalID]
	if !ok {
		return model.DashboardStats{}, storage.ErrNotFound
	}
	dayEnd, weekEnd := dayStart.AddDate(0, 0, 1), dayStart.AddDate(0, 0, 7)
	st := model.DashboardStats{HospitalName: name, TodaysSchedule: []model.AdminAppointment{}}
	var revenue float64
	for _, a := range s.sorted() {
		if a.HospitalID != hospitalID {
			continue
		}
		today := !a.DateTime.Before(dayStart) && a.DateTime.Before(dayEnd)
		if today {
			st.TodayCount++
			st.TodaysSchedule = append(st.TodaysSchedule, s.admin(a))
			if a.Status == model.StatusCompleted && a.PaymentStatus {
				v, _ := strconv.ParseFloat(a.PaymentAmount, 64)
				revenue += v
			}
		}
		if !a.DateTime.Before(dayEnd) && a.DateTime.Before(weekEnd) {
			st.UpcomingCount++
		}
		if a.Status == model.StatusBooked && !a.PaymentStatus {
			st.PendingPayments++
		}
	}
	st.TodayRevenue = strconv.FormatFloat(revenue, 'f', 2, 64)
	return st, nil
}

func (s *Store) DashboardCharts(_ context.Context, hospitalID int64) (model.DashboardCharts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDoctor, byStatus := map[string]int{}, map[string]int{}
	for _, a := range s.appts {
		if a.HospitalID != hospitalID {
			continue
		}
		byDoctor[s.doctors[a.DoctorID].Name]++
		byStatus[string(a.Status)]++
	}
	return model.DashboardCharts{ByDoctor: counts(byDoctor, true), ByStatus: counts(byStatus, false)}, nil
}

func counts(m map[string]int, byCountDesc bool) []model.CountByLabel {
	out := []model.CountByLabel{}
	for k, v := range m {
		out = append(out, model.CountByLabel{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if byCountDesc && out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (s *Store) sorted() []model.Appointment {
	out := make([]model.Appointment, 0, len(s.appts))
	for _, a := range s.appts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.After(out[j].DateTime) })
	return out
}

func (s *Store) admin(a model.Appointment) model.AdminAppointment {
	u := s.users[a.PatientID]
	return model.AdminAppointment{
		ID:            a.ID,
		PatientID:     a.PatientID,
		PatientName:   u.Name,
		PatientEmail:  u.Email,
		DoctorID:      a.DoctorID,
		DoctorName:    s.doctors[a.DoctorID].Name,
		DoctorFee:     s.doctors[a.DoctorID].Fee,
		HospitalName:  s.hospitals[a.HospitalID],
		DateTime:      a.DateTime,
		Status:        a.Status,
		PaymentStatus: a.PaymentStatus,
		PaymentMethod: a.PaymentMethod,
		PaymentAmount: a.PaymentAmount,
	}
}

// tx runs with Store.mu held by InTx.
type tx struct {
	s *Store
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func (t *tx) AppointmentForUpdate(_ context.Context, id int64) (model.Appointment, error) {
	a, ok := t.s.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (t *tx) AppointmentByTransaction(_ context.Context, token string) (model.Appointment, error) {
	for _, a := range t.s.appts {
		if token != "" && a.PaymentTransactionID == token {
			return a, nil
		}
	}
	return model.Appointment{}, storage.ErrNotFound
}

func (t *tx) HasBookedAt(_ context.Context, doctorID int64, at time.Time, excludeID int64) (bool, error) {
	for _, a := range t.s.appts {
		if a.ID != excludeID && a.DoctorID == doctorID && a.DateTime.Equal(at) && a.Status == model.StatusBooked {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreateAppointment(_ context.Context, appt model.Appointment) (int64, error) {
	for _, a := range t.s.appts {
		if a.PatientID == appt.PatientID && a.DoctorID == appt.DoctorID && a.DateTime.Equal(appt.DateTime) {
			return 0, uniqueViolation("appointments_patient_id_doctor_id_appointment_datetime_key")
		}
	}
	if appt.Status == model.StatusBooked {
		if taken, _ := t.HasBookedAt(context.Background(), appt.DoctorID, appt.DateTime, 0); taken {
			return 0, uniqueViolation("appointments_booked_slot_uniq")
		}
	}
	t.s.nextID++
	appt.ID = t.s.nextID
	if appt.PaymentAmount == "" {
		appt.PaymentAmount = "0.00"
	}
	appt.CreatedAt = time.Now().UTC()
	appt.UpdatedAt = appt.CreatedAt
	t.s.appts[appt.ID] = appt
	return appt.ID, nil
}

func (t *tx) EffectiveFee(_ context.Context, doctorID, hospitalID int64) (string, error) {
	d, ok := t.s.doctors[doctorID]
	if !ok {
		return "", storage.ErrNotFound
	}
	if fee, ok := t.s.opd[[2]int64{doctorID, hospitalID}]; ok {
		return fee, nil
	}
	return d.Fee, nil
}

func (t *tx) SetTransactionToken(_ context.Context, id int64, token string) error {
	for _, a := range t.s.appts {
		if a.ID != id && a.PaymentTransactionID == token {
			return uniqueViolation("appointments_payment_transaction_id_key")
		}
	}
	a, ok := t.s.appts[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.PaymentTransactionID = token
	t.s.appts[id] = a
	return nil
}

func (t *tx) MarkPaid(ctx context.Context, id int64, method, amount string) error {
	a, ok := t.s.appts[id]
	if !ok {
		return storage.ErrNotFound
	}
	if taken, _ := t.HasBookedAt(ctx, a.DoctorID, a.DateTime, id); taken {
		return uniqueViolation("appointments_booked_slot_uniq")
	}
	a.PaymentStatus = true
	a.PaymentMethod = method
	a.PaymentAmount = amount
	a.Status = model.StatusBooked
	a.UpdatedAt = time.Now().UTC()
	t.s.appts[id] = a
	return nil
}

func (t *tx) SetStatus(ctx context.Context, id int64, status model.Status) error {
	a, ok := t.s.appts[id]
	if !ok {
		return storage.ErrNotFound
	}
	if status == model.StatusBooked {
		if taken, _ := t.HasBookedAt(ctx, a.DoctorID, a.DateTime, id); taken {
			return uniqueViolation("appointments_booked_slot_uniq")
		}
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	t.s.appts[id] = a
	return nil
}

func (t *tx) RecordProviderEvent(_ context.Context, provider, eventID, _ string, _ []byte) (bool, error) {
	if t.s.providerEvents[eventID] {
		return false, nil
	}
	t.s.providerEvents[eventID] = true
	return true, nil
}

func (t *tx) Parties(_ context.Context, appt model.Appointment) (model.Parties, error) {
	d, ok := t.s.doctors[appt.DoctorID]
	if !ok {
		return model.Parties{}, storage.ErrNotFound
	}
	u := t.s.users[appt.PatientID]
	return model.Parties{
		PatientName:  u.Name,
		PatientEmail: u.Email,
		DoctorName:   d.Name,
		HospitalName: t.s.hospitals[appt.HospitalID],
	}, nil
}

func (t *tx) Enqueue(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}

// StaleCardSessions ignores the cutoff; the store keeps no update times.
func (s *Store) StaleCardSessions(_ context.Context, _ time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.sorted() {
		if a.Status != model.StatusPending || a.PaymentStatus || !strings.HasPrefix(a.PaymentTransactionID, "cs_") {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, a.PaymentTransactionID)
	}
	return out, nil
}
