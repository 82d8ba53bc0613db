package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
)

func (r *Repository) PatientAppointments(ctx context.Context, patientID string) ([]model.PatientAppointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, d.name, d.photo, s.name, d.address, a.appointment_datetime, a.status, a.payment_status
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN specialties s ON s.id = d.specialty_id
		WHERE a.patient_id = $1
		ORDER BY a.appointment_datetime DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PatientAppointment{}
	for rows.Next() {
		var p model.PatientAppointment
		var status string
		if err := rows.Scan(&p.ID, &p.DoctorName, &p.DoctorPhoto, &p.DoctorSpecialty, &p.DoctorAddress, &p.DateTime, &status, &p.PaymentStatus); err != nil {
			return nil, err
		}
		p.Status = model.Status(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

const adminAppointmentSelect = `
	SELECT a.id, a.patient_id::text, u.name, u.email, a.doctor_id, d.name, d.photo, d.fees::text, h.name,
		a.appointment_datetime, a.status, a.payment_status, COALESCE(a.payment_method, ''), a.payment_amount::text
	FROM appointments a
	JOIN users u ON u.id = a.patient_id
	JOIN doctors d ON d.id = a.doctor_id
	JOIN hospitals h ON h.id = a.hospital_id
`

func scanAdminAppointments(rows pgx.Rows) ([]model.AdminAppointment, error) {
	defer rows.Close()
	out := []model.AdminAppointment{}
	for rows.Next() {
		var a model.AdminAppointment
		var status string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientEmail, &a.DoctorID, &a.DoctorName, &a.DoctorPhoto, &a.DoctorFee,
			&a.HospitalName, &a.DateTime, &status, &a.PaymentStatus, &a.PaymentMethod, &a.PaymentAmount); err != nil {
			return nil, err
		}
		a.Status = model.Status(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// HospitalAppointments lists appointments newest first, narrowed by filter.
func (r *Repository) HospitalAppointments(ctx context.Context, filter model.AppointmentFilter) ([]model.AdminAppointment, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.HospitalID != 0 {
		add("a.hospital_id = $%d", filter.HospitalID)
	}
	if filter.DoctorID != 0 {
		add("a.doctor_id = $%d", filter.DoctorID)
	}
	if filter.Status != "" {
		add("a.status = $%d", filter.Status)
	}
	if filter.PaymentStatus != nil {
		add("a.payment_status = $%d", *filter.PaymentStatus)
	}

	query := adminAppointmentSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.appointment_datetime DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAdminAppointments(rows)
}

// DashboardStats summarizes a hospital around the local day starting at dayStart.
func (r *Repository) DashboardStats(ctx context.Context, hospitalID int64, dayStart time.Time) (model.DashboardStats, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekEnd := dayStart.AddDate(0, 0, 7)

	var s model.DashboardStats
	err := r.pool.QueryRow(ctx, `SELECT name FROM hospitals WHERE id = $1`, hospitalID).Scan(&s.HospitalName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DashboardStats{}, ErrNotFound
	}
	if err != nil {
		return model.DashboardStats{}, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE appointment_datetime >= $2 AND appointment_datetime < $3),
			count(*) FILTER (WHERE appointment_datetime >= $3 AND appointment_datetime < $4),
			COALESCE(sum(payment_amount) FILTER (
				WHERE appointment_datetime >= $2 AND appointment_datetime < $3
					AND status = 'completed' AND payment_status
			), 0)::numeric(12,2)::text,
			count(*) FILTER (WHERE status = 'booked' AND NOT payment_status)
		FROM appointments
		WHERE hospital_id = $1
	`, hospitalID, dayStart, dayEnd, weekEnd).Scan(&s.TodayCount, &s.UpcomingCount, &s.TodayRevenue, &s.PendingPayments)
	if err != nil {
		return model.DashboardStats{}, err
	}

	rows, err := r.pool.Query(ctx, adminAppointmentSelect+`
		WHERE a.hospital_id = $1 AND a.appointment_datetime >= $2 AND a.appointment_datetime < $3
		ORDER BY a.appointment_datetime
	`, hospitalID, dayStart, dayEnd)
	if err != nil {
		return model.DashboardStats{}, err
	}
	s.TodaysSchedule, err = scanAdminAppointments(rows)
	if err != nil {
		return model.DashboardStats{}, err
	}
	return s, nil
}

func (r *Repository) DashboardCharts(ctx context.Context, hospitalID int64) (model.DashboardCharts, error) {
	var c model.DashboardCharts
	var err error
	c.ByDoctor, err = r.counts(ctx, `
		SELECT d.name, count(*)
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.hospital_id = $1
		GROUP BY d.name
		ORDER BY count(*) DESC, d.name
	`, hospitalID)
	if err != nil {
		return model.DashboardCharts{}, err
	}
	c.ByStatus, err = r.counts(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE hospital_id = $1
		GROUP BY status
		ORDER BY status
	`, hospitalID)
	if err != nil {
		return model.DashboardCharts{}, err
	}
	return c, nil
}

func (r *Repository) counts(ctx context.Context, query string, hospitalID int64) ([]model.CountByLabel, error) {
	rows, err := r.pool.Query(ctx, query, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CountByLabel{}
	for rows.Next() {
		var c model.CountByLabel
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StaleCardSessions lists Stripe checkout sessions on unpaid pending appointments last
// updated before the cutoff, oldest first.
func (r *Repository) StaleCardSessions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payment_transaction_id
		FROM appointments
		WHERE status = 'pending'
			AND payment_status = false
			AND payment_transaction_id LIKE 'cs\_%'
			AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
