package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
)

var ErrNotFound = errors.New("not found")

// Tx is the set of writes and locked reads a booking, payment or lifecycle step performs
// atomically. Every method runs inside one database transaction.
type Tx interface {
	AppointmentForUpdate(ctx context.Context, id int64) (model.Appointment, error)
	AppointmentByTransaction(ctx context.Context, token string) (model.Appointment, error)
	HasBookedAt(ctx context.Context, doctorID int64, at time.Time, excludeID int64) (bool, error)
	CreateAppointment(ctx context.Context, appt model.Appointment) (int64, error)
	EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error)
	SetTransactionToken(ctx context.Context, id int64, token string) error
	MarkPaid(ctx context.Context, id int64, method, amount string) error
	SetStatus(ctx context.Context, id int64, status model.Status) error
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	Parties(ctx context.Context, appt model.Appointment) (model.Parties, error)
	Enqueue(ctx context.Context, evt outbox.Event) error
}

type Repository struct {
	pool   db.Conn
	outbox *outbox.Repository
}

func NewRepository(pool db.Conn) *Repository {
	return &Repository{pool: pool, outbox: outbox.NewRepository()}
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&sqlTx{tx: tx, outbox: r.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) DoctorExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, id)
}

func (r *Repository) HospitalExists(ctx context.Context, id int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM hospitals WHERE id = $1)`, id)
}

func (r *Repository) exists(ctx context.Context, query string, id int64) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// DoctorTemplate loads the doctor's weekly availability. Unknown doctors yield ErrNotFound.
func (r *Repository) DoctorTemplate(ctx context.Context, doctorID int64) (availability.Template, error) {
	ok, err := r.DoctorExists(ctx, doctorID)
	if err != nil {
		return availability.Template{}, err
	}
	if !ok {
		return availability.Template{}, ErrNotFound
	}

	var tpl availability.Template
	rows, err := r.pool.Query(ctx, `
		SELECT d.name
		FROM doctor_days dd
		JOIN days d ON d.id = dd.day_id
		WHERE dd.doctor_id = $1
		ORDER BY d.id
	`, doctorID)
	if err != nil {
		return availability.Template{}, err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return availability.Template{}, err
		}
		day, err := availability.ParseWeekday(name)
		if err != nil {
			rows.Close()
			return availability.Template{}, fmt.Errorf("day %q: %w", name, err)
		}
		tpl.Days = append(tpl.Days, day)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return availability.Template{}, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT ts.id, to_char(ts.slot_time, 'HH24:MI:SS')
		FROM doctor_time_slots dts
		JOIN time_slots ts ON ts.id = dts.time_slot_id
		WHERE dts.doctor_id = $1
		ORDER BY ts.slot_time
	`, doctorID)
	if err != nil {
		return availability.Template{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s availability.Slot
		if err := rows.Scan(&s.ID, &s.Time); err != nil {
			return availability.Template{}, err
		}
		tpl.Slots = append(tpl.Slots, s)
	}
	return tpl, rows.Err()
}

// OccupiedTimes lists the datetimes of the doctor's non-canceled appointments in [from, to).
func (r *Repository) OccupiedTimes(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_datetime
		FROM appointments
		WHERE doctor_id = $1
			AND appointment_datetime >= $2
			AND appointment_datetime < $3
			AND status <> 'canceled'
		ORDER BY appointment_datetime
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type sqlTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

const appointmentColumns = `id, patient_id::text, doctor_id, hospital_id, appointment_datetime, status,
	payment_status, COALESCE(payment_method, ''), COALESCE(payment_transaction_id, ''),
	payment_amount::text, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.HospitalID, &a.DateTime, &status,
		&a.PaymentStatus, &a.PaymentMethod, &a.PaymentTransactionID, &a.PaymentAmount,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	return a, nil
}

func (t *sqlTx) AppointmentForUpdate(ctx context.Context, id int64) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *sqlTx) AppointmentByTransaction(ctx context.Context, token string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE payment_transaction_id = $1
		FOR UPDATE
	`, token))
}

func (t *sqlTx) HasBookedAt(ctx context.Context, doctorID int64, at time.Time, excludeID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND appointment_datetime = $2 AND status = 'booked' AND id <> $3
		)
	`, doctorID, at, excludeID).Scan(&ok)
	return ok, err
}

func (t *sqlTx) CreateAppointment(ctx context.Context, appt model.Appointment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, hospital_id, appointment_datetime, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, appt.PatientID, appt.DoctorID, appt.HospitalID, appt.DateTime, string(appt.Status), appt.PaymentStatus).Scan(&id)
	return id, err
}

const effectiveFeeSQL = `
	SELECT COALESCE(dh.opd_charge, d.fees)::text
	FROM doctors d
	LEFT JOIN doctor_hospitals dh ON dh.doctor_id = d.id AND dh.hospital_id = $2
	WHERE d.id = $1
`

// EffectiveFee prefers the hospital specific OPD charge and falls back to the doctor's fee.
func (t *sqlTx) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	return effectiveFee(t.tx.QueryRow(ctx, effectiveFeeSQL, doctorID, hospitalID))
}

// EffectiveFee reads the fee outside a transaction.
func (r *Repository) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	return effectiveFee(r.pool.QueryRow(ctx, effectiveFeeSQL, doctorID, hospitalID))
}

func effectiveFee(row pgx.Row) (string, error) {
	var fee string
	err := row.Scan(&fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return fee, err
}

func (t *sqlTx) SetTransactionToken(ctx context.Context, id int64, token string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET payment_transaction_id = $2, updated_at = now()
		WHERE id = $1
	`, id, token)
	return err
}

func (t *sqlTx) MarkPaid(ctx context.Context, id int64, method, amount string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET payment_status = true,
			payment_method = $2,
			payment_amount = $3::numeric,
			status = 'booked',
			updated_at = now()
		WHERE id = $1
	`, id, method, amount)
	return err
}

func (t *sqlTx) SetStatus(ctx context.Context, id int64, status model.Status) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
	return err
}

// RecordProviderEvent reports false when the provider event was already stored.
func (t *sqlTx) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO payment_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *sqlTx) Parties(ctx context.Context, appt model.Appointment) (model.Parties, error) {
	var p model.Parties
	err := t.tx.QueryRow(ctx, `
		SELECT u.name, u.email, COALESCE(up.phone, ''), d.name, h.name
		FROM users u
		LEFT JOIN user_profiles up ON up.user_id = u.id
		CROSS JOIN doctors d
		CROSS JOIN hospitals h
		WHERE u.id = $1 AND d.id = $2 AND h.id = $3
	`, appt.PatientID, appt.DoctorID, appt.HospitalID).Scan(&p.PatientName, &p.PatientEmail, &p.PatientPhone, &p.DoctorName, &p.HospitalName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Parties{}, ErrNotFound
	}
	return p, err
}

func (t *sqlTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
