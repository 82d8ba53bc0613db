package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/directoryrpc"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
)

// AddExistingDoctor affiliates a doctor with a hospital at the given OPD charge and returns both
// names for the confirmation message.
func (r *Repository) AddExistingDoctor(ctx context.Context, hospitalID, doctorID int64, opdCharge string) (string, string, error) {
	var doctorName, hospitalName string
	err := r.pool.QueryRow(ctx, `SELECT name FROM doctors WHERE id = $1`, doctorID).Scan(&doctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO doctor_hospitals (doctor_id, hospital_id, opd_charge)
		VALUES ($1, $2, $3::numeric)
		RETURNING (SELECT name FROM hospitals WHERE id = $2)
	`, doctorID, hospitalID, opdCharge).Scan(&hospitalName)
	switch {
	case db.IsUniqueViolation(err):
		return "", "", ErrAlreadyAssigned
	case db.IsForeignKeyViolation(err):
		return "", "", ErrNotFound
	case err != nil:
		return "", "", err
	}
	return doctorName, hospitalName, nil
}

// CreateDoctor inserts a doctor and affiliates them with hospitalID in one transaction.
func (r *Repository) CreateDoctor(ctx context.Context, hospitalID int64, d model.NewDoctor, opdCharge string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO doctors (name, email, password_hash, specialty_id, nmc_no, fees, about, photo)
		VALUES ($1, $2, $3, NULLIF($4::bigint, 0), $5, $6::numeric, $7, $8)
		RETURNING id
	`, d.Name, d.Email, d.PasswordHash, d.SpecialtyID, d.NMCNo, d.Fees, d.About, d.Photo).Scan(&id)
	switch {
	case db.IsUniqueViolation(err):
		return 0, ErrDuplicateDoctor
	case db.IsForeignKeyViolation(err):
		return 0, ErrUnknownSpecialty
	case err != nil:
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO doctor_hospitals (doctor_id, hospital_id, opd_charge)
		VALUES ($1, $2, $3::numeric)
	`, id, hospitalID, opdCharge)
	if db.IsForeignKeyViolation(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

const rosterDoctorSQL = `
	SELECT d.name
	FROM doctors d
	WHERE d.id = $1
		AND ($2::bigint = 0 OR EXISTS (
			SELECT 1 FROM doctor_hospitals dh WHERE dh.doctor_id = d.id AND dh.hospital_id = $2))
`

// Schedule returns the doctor's template with the full day and time catalog. A hospitalID of
// zero skips the roster check.
func (r *Repository) Schedule(ctx context.Context, hospitalID, doctorID int64) (model.Schedule, error) {
	var s model.Schedule
	err := r.pool.QueryRow(ctx, rosterDoctorSQL, doctorID, hospitalID).Scan(&s.DoctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}

	if s.Days, err = r.Days(ctx); err != nil {
		return model.Schedule{}, err
	}
	if s.Times, err = r.TimeSlots(ctx); err != nil {
		return model.Schedule{}, err
	}
	if s.DayIDs, err = r.ids(ctx, `SELECT day_id FROM doctor_days WHERE doctor_id = $1 ORDER BY day_id`, doctorID); err != nil {
		return model.Schedule{}, err
	}
	if s.TimeIDs, err = r.ids(ctx, `SELECT time_slot_id FROM doctor_time_slots WHERE doctor_id = $1 ORDER BY time_slot_id`, doctorID); err != nil {
		return model.Schedule{}, err
	}
	return s, nil
}

// UpdateSchedule replaces both the day and the time set of a rostered doctor.
func (r *Repository) UpdateSchedule(ctx context.Context, hospitalID, doctorID int64, dayIDs, timeIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var name string
	err = tx.QueryRow(ctx, rosterDoctorSQL+` FOR UPDATE OF d`, doctorID, hospitalID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_days WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	if len(dayIDs) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_days (doctor_id, day_id)
			SELECT $1, unnest($2::smallint[])
			ON CONFLICT DO NOTHING
		`, doctorID, dayIDs)
		if err != nil {
			return scheduleErr(err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_time_slots WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	if len(timeIDs) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_time_slots (doctor_id, time_slot_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, doctorID, timeIDs)
		if err != nil {
			return scheduleErr(err)
		}
	}
	return tx.Commit(ctx)
}

func scheduleErr(err error) error {
	if db.IsForeignKeyViolation(err) {
		return ErrInvalidSchedule
	}
	return err
}

func (r *Repository) Days(ctx context.Context) ([]model.Day, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM days ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := []model.Day{}
	var d model.Day
	_, err = pgx.ForEachRow(rows, []any{&d.ID, &d.Name}, func() error {
		out = append(out, d)
		return nil
	})
	return out, err
}

func (r *Repository) TimeSlots(ctx context.Context) ([]model.TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, to_char(slot_time, 'HH24:MI:SS') FROM time_slots ORDER BY slot_time`)
	if err != nil {
		return nil, err
	}
	out := []model.TimeSlot{}
	var t model.TimeSlot
	_, err = pgx.ForEachRow(rows, []any{&t.ID, &t.Time}, func() error {
		out = append(out, t)
		return nil
	})
	return out, err
}

func (r *Repository) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []int64{}
	}
	return out, nil
}

// DoctorTemplate serves the Directory RPC.
func (r *Repository) DoctorTemplate(ctx context.Context, doctorID int64) (directoryrpc.Template, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE id = $1)`, doctorID).Scan(&exists); err != nil {
		return directoryrpc.Template{}, err
	}
	if !exists {
		return directoryrpc.Template{}, ErrNotFound
	}

	tpl := directoryrpc.Template{DoctorID: doctorID}
	rows, err := r.pool.Query(ctx, `
		SELECT dy.name
		FROM doctor_days dd
		JOIN days dy ON dy.id = dd.day_id
		WHERE dd.doctor_id = $1
		ORDER BY dy.id
	`, doctorID)
	if err != nil {
		return directoryrpc.Template{}, err
	}
	if tpl.Days, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return directoryrpc.Template{}, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT ts.id, to_char(ts.slot_time, 'HH24:MI:SS')
		FROM doctor_time_slots dts
		JOIN time_slots ts ON ts.id = dts.time_slot_id
		WHERE dts.doctor_id = $1
		ORDER BY ts.slot_time
	`, doctorID)
	if err != nil {
		return directoryrpc.Template{}, err
	}
	var slot directoryrpc.Slot
	_, err = pgx.ForEachRow(rows, []any{&slot.ID, &slot.Time}, func() error {
		tpl.Slots = append(tpl.Slots, slot)
		return nil
	})
	if err != nil {
		return directoryrpc.Template{}, err
	}
	return tpl, nil
}

// EffectiveFee is the hospital OPD charge, or the doctor's own fee when the doctor is not
// affiliated with hospitalID.
func (r *Repository) EffectiveFee(ctx context.Context, doctorID, hospitalID int64) (string, error) {
	var fee string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(dh.opd_charge, d.fees)::text
		FROM doctors d
		LEFT JOIN doctor_hospitals dh ON dh.doctor_id = d.id AND dh.hospital_id = $2
		WHERE d.id = $1
	`, doctorID, hospitalID).Scan(&fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return fee, err
}
