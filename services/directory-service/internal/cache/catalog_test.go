package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
)

type countingSource struct {
	calls   map[string]int
	doctors []model.Doctor
}

func (s *countingSource) hit(name string) { s.calls[name]++ }

func (s *countingSource) ListHospitals(context.Context) ([]model.Hospital, error) {
	s.hit("hospitals")
	return []model.Hospital{{ID: 3, Name: "City Hospital", Doctors: s.doctors}}, nil
}

func (s *countingSource) Hospital(_ context.Context, id int64) (model.Hospital, error) {
	s.hit("hospital")
	if id != 3 {
		return model.Hospital{}, errors.New("not found")
	}
	return model.Hospital{ID: 3, Name: "City Hospital"}, nil
}

func (s *countingSource) ListDoctors(context.Context, model.DoctorFilter) ([]model.Doctor, error) {
	s.hit("doctors")
	return s.doctors, nil
}

func (s *countingSource) Doctor(context.Context, int64) (model.Doctor, error) {
	s.hit("doctor")
	return s.doctors[0], nil
}

func (s *countingSource) Specialties(context.Context) ([]model.Specialty, error) {
	s.hit("specialties")
	return []model.Specialty{{ID: 1, Name: "Cardiology"}}, nil
}

func (s *countingSource) Search(context.Context, string) (model.SearchResult, error) {
	s.hit("search")
	return model.SearchResult{}, nil
}

func (s *countingSource) Suggestions(context.Context, string) ([]model.Suggestion, error) {
	s.hit("suggestions")
	return nil, nil
}

func newCatalog(t *testing.T) (*Catalog, *countingSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cardiology := "Cardiology"
	src := &countingSource{
		calls: map[string]int{},
		doctors: []model.Doctor{{
			ID: 7, Name: "Dr. A", Specialty: &cardiology, Fees: "500.00",
			Hospitals:      []model.HospitalLink{{HospitalID: 3, HospitalName: "City Hospital", OPDCharge: "800.00"}},
			AvailableDays:  []string{"Monday"},
			AvailableTimes: []string{"10:00 AM"},
		}},
	}
	return NewCatalog(src, rdb, time.Minute, "", nil), src, mr
}

func TestCatalogServesRepeatReadsFromRedis(t *testing.T) {
	c, src, _ := newCatalog(t)
	ctx := context.Background()

	first, err := c.ListDoctors(ctx, model.DoctorFilter{Specialty: "Cardiology"})
	require.NoError(t, err)
	second, err := c.ListDoctors(ctx, model.DoctorFilter{Specialty: "cardiology "})
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls["doctors"])
	assert.Equal(t, first, second)
	require.NotNil(t, second[0].Specialty)
	assert.Equal(t, "Cardiology", *second[0].Specialty)

	_, err = c.ListDoctors(ctx, model.DoctorFilter{HospitalID: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["doctors"], "different filter is a different entry")
}

func TestCatalogInvalidate(t *testing.T) {
	c, src, _ := newCatalog(t)
	ctx := context.Background()

	_, err := c.Specialties(ctx)
	require.NoError(t, err)
	_, err = c.Specialties(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, src.calls["specialties"])

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Specialties(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["specialties"])
}

func TestCatalogDoesNotCacheErrors(t *testing.T) {
	c, src, _ := newCatalog(t)
	ctx := context.Background()

	_, err := c.Hospital(ctx, 99)
	require.Error(t, err)
	_, err = c.Hospital(ctx, 99)
	require.Error(t, err)
	assert.Equal(t, 2, src.calls["hospital"])
}

func TestCatalogFallsThroughWhenRedisIsDown(t *testing.T) {
	c, src, mr := newCatalog(t)
	mr.Close()

	list, err := c.ListHospitals(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, src.calls["hospitals"])
}

func TestCatalogPassesSearchThrough(t *testing.T) {
	c, src, _ := newCatalog(t)
	for i := 0; i < 2; i++ {
		_, err := c.Search(context.Background(), "heart")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.calls["search"])
}
