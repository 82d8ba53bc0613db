package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyAssigned  = errors.New("doctor already assigned to hospital")
	ErrDuplicateDoctor  = errors.New("doctor email or nmc number already registered")
	ErrUnknownSpecialty = errors.New("unknown specialty")
	ErrInvalidSchedule  = errors.New("unknown day or time slot")
)

type Repository struct {
	pool db.Conn
}

func NewRepository(pool db.Conn) *Repository {
	return &Repository{pool: pool}
}

const doctorSelect = `
	SELECT d.id, d.name, s.name, d.photo, d.about, d.fees::text
	FROM doctors d
	LEFT JOIN specialties s ON s.id = d.specialty_id
`

const hospitalSelect = `
	SELECT id, name, location, description, phone_number, email, website, logo
	FROM hospitals
`

func (r *Repository) ListDoctors(ctx context.Context, f model.DoctorFilter) ([]model.Doctor, error) {
	return r.doctors(ctx, doctorSelect+`
		WHERE ($1::bigint = 0 OR EXISTS (
				SELECT 1 FROM doctor_hospitals dh WHERE dh.doctor_id = d.id AND dh.hospital_id = $1))
			AND ($2::bigint = 0 OR NOT EXISTS (
				SELECT 1 FROM doctor_hospitals dh WHERE dh.doctor_id = d.id AND dh.hospital_id = $2))
			AND ($3 = '' OR lower(s.name) = lower($3))
		ORDER BY d.id
	`, f.HospitalID, f.NotAtHospitalID, strings.TrimSpace(f.Specialty))
}

func (r *Repository) Doctor(ctx context.Context, id int64) (model.Doctor, error) {
	list, err := r.doctors(ctx, doctorSelect+`WHERE d.id = $1`, id)
	if err != nil {
		return model.Doctor{}, err
	}
	if len(list) == 0 {
		return model.Doctor{}, ErrNotFound
	}
	return list[0], nil
}

func (r *Repository) ListHospitals(ctx context.Context) ([]model.Hospital, error) {
	hospitals, err := r.hospitals(ctx, hospitalSelect+`ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return hospitals, r.attachDoctors(ctx, hospitals)
}

func (r *Repository) Hospital(ctx context.Context, id int64) (model.Hospital, error) {
	list, err := r.hospitals(ctx, hospitalSelect+`WHERE id = $1`, id)
	if err != nil {
		return model.Hospital{}, err
	}
	if len(list) == 0 {
		return model.Hospital{}, ErrNotFound
	}
	h := list[0]
	h.Doctors, err = r.ListDoctors(ctx, model.DoctorFilter{HospitalID: id})
	if err != nil {
		return model.Hospital{}, err
	}
	return h, nil
}

func (r *Repository) Specialties(ctx context.Context) ([]model.Specialty, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, icon FROM specialties ORDER BY name`)
	if err != nil {
		return nil, err
	}
	out := []model.Specialty{}
	var s model.Specialty
	_, err = pgx.ForEachRow(rows, []any{&s.ID, &s.Name, &s.Icon}, func() error {
		out = append(out, s)
		return nil
	})
	return out, err
}

// Search matches doctors by name or specialty and hospitals by name or location.
func (r *Repository) Search(ctx context.Context, query string) (model.SearchResult, error) {
	res := model.SearchResult{Doctors: []model.Doctor{}, Hospitals: []model.Hospital{}}
	query = strings.TrimSpace(query)
	if query == "" {
		return res, nil
	}
	pattern := containsPattern(query)

	var err error
	res.Doctors, err = r.doctors(ctx, doctorSelect+`
		WHERE d.name ILIKE $1 OR s.name ILIKE $1
		ORDER BY d.id
	`, pattern)
	if err != nil {
		return model.SearchResult{}, err
	}
	res.Hospitals, err = r.hospitals(ctx, hospitalSelect+`
		WHERE name ILIKE $1 OR location ILIKE $1
		ORDER BY id
	`, pattern)
	if err != nil {
		return model.SearchResult{}, err
	}
	if err := r.attachDoctors(ctx, res.Hospitals); err != nil {
		return model.SearchResult{}, err
	}
	return res, nil
}

// Suggestions lists every hospital affiliation of doctors in the first specialty whose name
// contains specialty. ErrNotFound means no specialty matched.
func (r *Repository) Suggestions(ctx context.Context, specialty string) ([]model.Suggestion, error) {
	var specialtyID int64
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM specialties WHERE name ILIKE $1 ORDER BY id LIMIT 1
	`, containsPattern(specialty)).Scan(&specialtyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.name, h.name, dh.opd_charge::text
		FROM doctor_hospitals dh
		JOIN doctors d ON d.id = dh.doctor_id
		JOIN hospitals h ON h.id = dh.hospital_id
		WHERE d.specialty_id = $1
		ORDER BY d.id, h.id
	`, specialtyID)
	if err != nil {
		return nil, err
	}
	out := []model.Suggestion{}
	var s model.Suggestion
	_, err = pgx.ForEachRow(rows, []any{&s.ID, &s.DoctorName, &s.HospitalName, &s.Fees}, func() error {
		out = append(out, s)
		return nil
	})
	return out, err
}

func (r *Repository) doctors(ctx context.Context, query string, args ...any) ([]model.Doctor, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []model.Doctor{}
	var (
		d         model.Doctor
		specialty *string
	)
	_, err = pgx.ForEachRow(rows, []any{&d.ID, &d.Name, &specialty, &d.Photo, &d.About, &d.Fees}, func() error {
		d.Specialty = specialty
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// hydrate loads affiliations and the weekly template for every doctor in one query each.
func (r *Repository) hydrate(ctx context.Context, doctors []model.Doctor) error {
	if len(doctors) == 0 {
		return nil
	}
	ids := make([]int64, len(doctors))
	index := make(map[int64]int, len(doctors))
	for i := range doctors {
		ids[i] = doctors[i].ID
		index[doctors[i].ID] = i
		doctors[i].Hospitals = []model.HospitalLink{}
		doctors[i].AvailableDays = []string{}
		doctors[i].AvailableTimes = []string{}
	}

	var (
		doctorID int64
		link     model.HospitalLink
		label    string
	)
	rows, err := r.pool.Query(ctx, `
		SELECT dh.doctor_id, h.id, h.name, dh.opd_charge::text
		FROM doctor_hospitals dh
		JOIN hospitals h ON h.id = dh.hospital_id
		WHERE dh.doctor_id = ANY($1)
		ORDER BY dh.doctor_id, h.id
	`, ids)
	if err != nil {
		return err
	}
	_, err = pgx.ForEachRow(rows, []any{&doctorID, &link.HospitalID, &link.HospitalName, &link.OPDCharge}, func() error {
		d := &doctors[index[doctorID]]
		d.Hospitals = append(d.Hospitals, link)
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT dd.doctor_id, dy.name
		FROM doctor_days dd
		JOIN days dy ON dy.id = dd.day_id
		WHERE dd.doctor_id = ANY($1)
		ORDER BY dd.doctor_id, dy.id
	`, ids)
	if err != nil {
		return err
	}
	_, err = pgx.ForEachRow(rows, []any{&doctorID, &label}, func() error {
		d := &doctors[index[doctorID]]
		d.AvailableDays = append(d.AvailableDays, label)
		return nil
	})
	if err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT dts.doctor_id, to_char(ts.slot_time, 'HH12:MI AM')
		FROM doctor_time_slots dts
		JOIN time_slots ts ON ts.id = dts.time_slot_id
		WHERE dts.doctor_id = ANY($1)
		ORDER BY dts.doctor_id, ts.slot_time
	`, ids)
	if err != nil {
		return err
	}
	_, err = pgx.ForEachRow(rows, []any{&doctorID, &label}, func() error {
		d := &doctors[index[doctorID]]
		d.AvailableTimes = append(d.AvailableTimes, label)
		return nil
	})
	return err
}

func (r *Repository) hospitals(ctx context.Context, query string, args ...any) ([]model.Hospital, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []model.Hospital{}
	var h model.Hospital
	_, err = pgx.ForEachRow(rows, []any{&h.ID, &h.Name, &h.Location, &h.Description, &h.PhoneNumber, &h.Email, &h.Website, &h.Logo}, func() error {
		out = append(out, h)
		return nil
	})
	return out, err
}

func (r *Repository) attachDoctors(ctx context.Context, hospitals []model.Hospital) error {
	if len(hospitals) == 0 {
		return nil
	}
	doctors, err := r.ListDoctors(ctx, model.DoctorFilter{})
	if err != nil {
		return err
	}
	for i := range hospitals {
		hospitals[i].Doctors = []model.Doctor{}
		for _, d := range doctors {
			if d.AffiliatedWith(hospitals[i].ID) {
				hospitals[i].Doctors = append(hospitals[i].Doctors, d)
			}
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(s)) + "%"
}
