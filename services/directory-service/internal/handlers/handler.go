package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/classifier"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Catalog is the public read side of the directory.
type Catalog interface {
	ListHospitals(ctx context.Context) ([]model.Hospital, error)
	Hospital(ctx context.Context, id int64) (model.Hospital, error)
	ListDoctors(ctx context.Context, f model.DoctorFilter) ([]model.Doctor, error)
	Doctor(ctx context.Context, id int64) (model.Doctor, error)
	Specialties(ctx context.Context) ([]model.Specialty, error)
	Search(ctx context.Context, query string) (model.SearchResult, error)
	Suggestions(ctx context.Context, specialty string) ([]model.Suggestion, error)
}

// Roster is the hospital admin write side.
type Roster interface {
	AddExistingDoctor(ctx context.Context, hospitalID, doctorID int64, opdCharge string) (string, string, error)
	CreateDoctor(ctx context.Context, hospitalID int64, d model.NewDoctor, opdCharge string) (int64, error)
	Schedule(ctx context.Context, hospitalID, doctorID int64) (model.Schedule, error)
	UpdateSchedule(ctx context.Context, hospitalID, doctorID int64, dayIDs, timeIDs []int64) error
}

type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (access.Capability, error)
}

// Invalidator is told about roster changes so cached catalog reads can be dropped.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Deps struct {
	Catalog    Catalog
	Roster     Roster
	Classifier classifier.Classifier
	Resolver   Resolver
	Cache      Invalidator
	Logger     *slog.Logger
	// HashPassword defaults to bcrypt at the default cost.
	HashPassword func(password []byte) ([]byte, error)
}

type Handler struct {
	catalog    Catalog
	roster     Roster
	classifier classifier.Classifier
	resolver   Resolver
	cache      Invalidator
	logger     *slog.Logger
	hash       func([]byte) ([]byte, error)
	validate   *validator.Validate
}

var moneyPattern = regexp.MustCompile(`^\d{1,8}(\.\d{1,2})?$`)

func New(d Deps) *Handler {
	hash := d.HashPassword
	if hash == nil {
		hash = func(p []byte) ([]byte, error) { return bcrypt.GenerateFromPassword(p, bcrypt.DefaultCost) }
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		return moneyPattern.MatchString(fl.Field().String())
	})
	return &Handler{
		catalog:    d.Catalog,
		roster:     d.Roster,
		classifier: d.Classifier,
		resolver:   d.Resolver,
		cache:      d.Cache,
		logger:     d.Logger,
		hash:       hash,
		validate:   v,
	}
}

// Register mounts every directory route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hospitals/{$}", h.ListHospitals)
	mux.HandleFunc("GET /api/hospitals/{id}/{$}", h.GetHospital)
	mux.HandleFunc("GET /api/doctors/{$}", h.ListDoctors)
	mux.HandleFunc("GET /api/doctors/{id}/{$}", h.GetDoctor)
	mux.HandleFunc("GET /api/specialties/{$}", h.ListSpecialties)
	mux.HandleFunc("GET /api/search/{$}", h.Search)
	mux.HandleFunc("POST /api/predict-specialty/{$}", h.PredictSpecialty)
	mux.HandleFunc("POST /api/suggest-doctor/{$}", h.SuggestDoctor)

	mux.HandleFunc("GET /api/admin/my-doctors/{$}", h.MyDoctors)
	mux.HandleFunc("GET /api/admin/unassigned-doctors/{$}", h.UnassignedDoctors)
	mux.HandleFunc("POST /api/admin/add-existing-doctor/{$}", h.AddExistingDoctor)
	mux.HandleFunc("POST /api/admin/create-doctor/{$}", h.CreateDoctor)
	mux.HandleFunc("GET /api/admin/doctors/{id}/schedule/{$}", h.GetSchedule)
	mux.HandleFunc("PUT /api/admin/doctors/{id}/schedule/{$}", h.UpdateSchedule)
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (access.Capability, bool) {
	c, err := h.resolver.Resolve(r.Context(), r)
	if err == nil {
		err = c.RequireAdmin()
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return access.Capability{}, false
	}
	return c, true
}

func (h *Handler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil && h.logger != nil {
		h.logger.Warn("catalog cache invalidation failed", "err", err)
	}
}

// flexID accepts 12, "12" or an empty value.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s, err := scalar(b)
	if err != nil || s == "" {
		*f = 0
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// amount accepts 500, 500.5 or "500.50".
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	s, err := scalar(b)
	*a = amount(s)
	return err
}

func scalar(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func parseID(raw string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
