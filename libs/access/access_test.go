package access

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
)

type fakeLookup map[string]int64

func (f fakeLookup) AdminHospital(_ context.Context, userID string) (int64, bool, error) {
	id, ok := f[userID]
	return id, ok, nil
}

func TestResolve(t *testing.T) {
	r := NewResolver(fakeLookup{"admin-1": 3})

	cases := []struct {
		name     string
		userID   string
		role     string
		want     Kind
		hospital int64
	}{
		{"anonymous", "", "", Anonymous, 0},
		{"patient", "u-1", "patient", Patient, 0},
		{"superuser", "root", "superuser", Superuser, 0},
		{"admin with hospital", "admin-1", "hospital_admin", HospitalAdmin, 3},
		{"admin without hospital", "admin-2", "hospital_admin", Patient, 0},
		{"unknown role", "u-2", "wizard", Patient, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.userID != "" {
				req.Header.Set(HeaderUserID, tc.userID)
				req.Header.Set(HeaderRole, tc.role)
			}
			c, err := r.Resolve(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Kind)
			assert.Equal(t, tc.hospital, c.HospitalID)
		})
	}
}

func TestCapabilityChecks(t *testing.T) {
	admin := Capability{Kind: HospitalAdmin, UserID: "a", HospitalID: 3}
	assert.True(t, admin.CanManage(3))
	assert.False(t, admin.CanManage(4))
	assert.NoError(t, admin.RequireAdmin())

	root := Capability{Kind: Superuser, UserID: "r"}
	assert.True(t, root.CanManage(99))

	patient := Capability{Kind: Patient, UserID: "p"}
	assert.False(t, patient.CanManage(3))
	assert.True(t, apperr.Is(patient.RequireAdmin(), apperr.KindForbidden))

	anon := Capability{}
	assert.True(t, apperr.Is(anon.RequireUser(), apperr.KindUnauthorized))
	assert.True(t, apperr.Is(anon.RequireAdmin(), apperr.KindUnauthorized))
}

func TestSQLLookup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM hospital_admins").WithArgs("admin-1").
		WillReturnRows(pgxmock.NewRows([]string{"hospital_id"}).AddRow(int64(5)))
	mock.ExpectQuery("FROM hospital_admins").WithArgs("nobody").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM hospital_admins").WithArgs("boom").WillReturnError(errors.New("down"))

	l := NewSQLLookup(mock)
	id, ok, err := l.AdminHospital(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)

	_, ok, err = l.AdminHospital(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = l.AdminHospital(context.Background(), "boom")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
