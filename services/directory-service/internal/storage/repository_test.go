package storage

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/upachar/libs/directoryrpc"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func strptr(s string) *string { return &s }

var doctorCols = []string{"id", "name", "specialty", "photo", "about", "fees"}

func TestDoctorHydratesAffiliationsAndTemplate(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT d.id, d.name, s.name").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(doctorCols).AddRow(int64(7), "Asha Karki", strptr("Cardiology"), "", "Interventional cardiologist", "500.00"))
	mock.ExpectQuery("SELECT dh.doctor_id, h.id").WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "id", "name", "opd_charge"}).
			AddRow(int64(7), int64(3), "City Hospital", "800.00").
			AddRow(int64(7), int64(4), "Valley Clinic", "650.00"))
	mock.ExpectQuery("SELECT dd.doctor_id").WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "name"}).AddRow(int64(7), "Monday").AddRow(int64(7), "Thursday"))
	mock.ExpectQuery("SELECT dts.doctor_id").WithArgs([]int64{7}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "time"}).AddRow(int64(7), "10:00 AM"))

	d, err := repo.Doctor(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, d.Specialty)
	assert.Equal(t, "Cardiology", *d.Specialty)
	assert.Equal(t, []model.HospitalLink{
		{HospitalID: 3, HospitalName: "City Hospital", OPDCharge: "800.00"},
		{HospitalID: 4, HospitalName: "Valley Clinic", OPDCharge: "650.00"},
	}, d.Hospitals)
	assert.Equal(t, []string{"Monday", "Thursday"}, d.AvailableDays)
	assert.Equal(t, []string{"10:00 AM"}, d.AvailableTimes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT d.id, d.name, s.name").WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(doctorCols))

	_, err := repo.Doctor(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDoctorsWithoutSpecialtyKeepsEmptyCollections(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT d.id, d.name, s.name").WithArgs(int64(0), int64(3), "").
		WillReturnRows(pgxmock.NewRows(doctorCols).AddRow(int64(8), "Bikash Rai", (*string)(nil), "", "", "300.00"))
	mock.ExpectQuery("SELECT dh.doctor_id, h.id").WithArgs([]int64{8}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "id", "name", "opd_charge"}))
	mock.ExpectQuery("SELECT dd.doctor_id").WithArgs([]int64{8}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "name"}))
	mock.ExpectQuery("SELECT dts.doctor_id").WithArgs([]int64{8}).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id", "time"}))

	list, err := repo.ListDoctors(context.Background(), model.DoctorFilter{NotAtHospitalID: 3})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Specialty)
	assert.NotNil(t, list[0].Hospitals)
	assert.Empty(t, list[0].Hospitals)
	assert.NotNil(t, list[0].AvailableDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEmptyQuerySkipsDatabase(t *testing.T) {
	repo := NewRepository(newMock(t))
	res, err := repo.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, res.Doctors)
	assert.Empty(t, res.Hospitals)
	assert.NotNil(t, res.Doctors)
}

func TestSearchEscapesWildcards(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("WHERE d.name ILIKE").WithArgs(`%50\%\_off%`).
		WillReturnRows(pgxmock.NewRows(doctorCols))
	mock.ExpectQuery("WHERE name ILIKE").WithArgs(`%50\%\_off%`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "location", "description", "phone_number", "email", "website", "logo"}))

	res, err := repo.Search(context.Background(), "50%_off")
	require.NoError(t, err)
	assert.Empty(t, res.Doctors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuggestionsUnknownSpecialty(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("FROM specialties WHERE name ILIKE").WithArgs("%astro%").WillReturnError(pgx.ErrNoRows)

	_, err := repo.Suggestions(context.Background(), "astro")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuggestions(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("FROM specialties WHERE name ILIKE").WithArgs("%cardio%").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("FROM doctor_hospitals dh").WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "doctor", "hospital", "fees"}).
			AddRow(int64(7), "Asha Karki", "City Hospital", "800.00"))

	list, err := repo.Suggestions(context.Background(), "cardio")
	require.NoError(t, err)
	assert.Equal(t, []model.Suggestion{{ID: 7, DoctorName: "Asha Karki", HospitalName: "City Hospital", Fees: "800.00"}}, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddExistingDoctor(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT name FROM doctors").WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Bikash Rai"))
	mock.ExpectQuery("INSERT INTO doctor_hospitals").WithArgs(int64(8), int64(3), "650").
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("City Hospital"))

	doctor, hospital, err := repo.AddExistingDoctor(context.Background(), 3, 8, "650")
	require.NoError(t, err)
	assert.Equal(t, "Bikash Rai", doctor)
	assert.Equal(t, "City Hospital", hospital)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddExistingDoctorErrors(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT name FROM doctors").WithArgs(int64(404)).WillReturnError(pgx.ErrNoRows)
	_, _, err := repo.AddExistingDoctor(context.Background(), 3, 404, "650")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery("SELECT name FROM doctors").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Asha Karki"))
	mock.ExpectQuery("INSERT INTO doctor_hospitals").WithArgs(int64(7), int64(3), "650").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, _, err = repo.AddExistingDoctor(context.Background(), 3, 7, "650")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDoctorCommits(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	nd := model.NewDoctor{Name: "Chandra Thapa", Email: "c@example.com", SpecialtyID: 1, Fees: "700",
		NMCNo: "NMC-9", PasswordHash: "hash"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO doctors").
		WithArgs("Chandra Thapa", "c@example.com", "hash", int64(1), "NMC-9", "700", "", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectExec("INSERT INTO doctor_hospitals").WithArgs(int64(12), int64(3), "900.50").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := repo.CreateDoctor(context.Background(), 3, nd, "900.50")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDoctorDuplicateRollsBack(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO doctors").
		WithArgs("x", "", "", int64(0), "", "", "", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := repo.CreateDoctor(context.Background(), 3, model.NewDoctor{Name: "x"}, "1")
	assert.ErrorIs(t, err, ErrDuplicateDoctor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleReplacesSets(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF d").WithArgs(int64(7), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Asha Karki"))
	mock.ExpectExec("DELETE FROM doctor_days").WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO doctor_days").WithArgs(int64(7), []int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("DELETE FROM doctor_time_slots").WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateSchedule(context.Background(), 3, 7, []int64{1, 2}, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleRequiresRoster(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF d").WithArgs(int64(8), int64(3)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.UpdateSchedule(context.Background(), 3, 8, []int64{1}, []int64{1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateScheduleUnknownSlot(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF d").WithArgs(int64(7), int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Asha Karki"))
	mock.ExpectExec("DELETE FROM doctor_days").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM doctor_time_slots").WithArgs(int64(7)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO doctor_time_slots").WithArgs(int64(7), []int64{404}).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	err := repo.UpdateSchedule(context.Background(), 0, 7, nil, []int64{404})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorTemplate(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM doctor_days dd").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Monday"))
	mock.ExpectQuery("FROM doctor_time_slots dts").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "time"}).AddRow(int64(1), "10:00:00").AddRow(int64(2), "10:30:00"))

	tpl, err := repo.DoctorTemplate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, directoryrpc.Template{
		DoctorID: 7,
		Days:     []string{"Monday"},
		Slots:    []directoryrpc.Slot{{ID: 1, Time: "10:00:00"}, {ID: 2, Time: "10:30:00"}},
	}, tpl)

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = repo.DoctorTemplate(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEffectiveFee(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectQuery("COALESCE\\(dh.opd_charge, d.fees\\)").WithArgs(int64(7), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"fee"}).AddRow("800.00"))
	mock.ExpectQuery("COALESCE\\(dh.opd_charge, d.fees\\)").WithArgs(int64(99), int64(3)).
		WillReturnError(pgx.ErrNoRows)

	fee, err := repo.EffectiveFee(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, "800.00", fee)

	_, err = repo.EffectiveFee(context.Background(), 99, 3)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
