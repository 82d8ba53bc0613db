package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/payment"
)

// Queries are the read models behind the listing and dashboard endpoints.
type Queries interface {
	PatientAppointments(ctx context.Context, patientID string) ([]model.PatientAppointment, error)
	HospitalAppointments(ctx context.Context, filter model.AppointmentFilter) ([]model.AdminAppointment, error)
	DashboardStats(ctx context.Context, hospitalID int64, dayStart time.Time) (model.DashboardStats, error)
	DashboardCharts(ctx context.Context, hospitalID int64) (model.DashboardCharts, error)
}

type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (access.Capability, error)
}

type Deps struct {
	Engine    *booking.Engine
	Payments  *payment.Service
	Lifecycle *lifecycle.Manager
	Queries   Queries
	Resolver  Resolver
	Logger    *slog.Logger
	Now       func() time.Time
}

type Handler struct {
	engine    *booking.Engine
	payments  *payment.Service
	lifecycle *lifecycle.Manager
	queries   Queries
	resolver  Resolver
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

func New(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		engine:    d.Engine,
		payments:  d.Payments,
		lifecycle: d.Lifecycle,
		queries:   d.Queries,
		resolver:  d.Resolver,
		logger:    d.Logger,
		loc:       d.Engine.Location(),
		now:       now,
	}
}

// Register mounts every booking route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/available-slots/{$}", h.AvailableSlots)
	mux.HandleFunc("POST /api/book-appointment/{$}", h.Book)
	mux.HandleFunc("GET /api/my-appointments/{$}", h.MyAppointments)
	mux.HandleFunc("POST /api/cancel-appointment/{$}", h.Cancel)

	mux.HandleFunc("POST /api/initiate-payment/{$}", h.InitiatePayment)
	mux.HandleFunc("POST /api/verify-payment/{$}", h.VerifyPayment)
	mux.HandleFunc("POST /api/initiate-card-payment/{$}", h.InitiateCardPayment)
	mux.HandleFunc("POST /api/payments/webhooks/stripe", h.StripeWebhook)

	mux.HandleFunc("GET /api/hospital-appointments/{$}", h.HospitalAppointments)
	mux.HandleFunc("POST /api/update-appointment-status/{$}", h.UpdateStatus)
	mux.HandleFunc("POST /api/admin/update-appointment-status/{$}", h.UpdateStatus)
	mux.HandleFunc("POST /api/admin/cancel-appointment/{id}/{$}", h.AdminCancel)
	mux.HandleFunc("GET /api/admin/all-appointments/{$}", h.AllAppointments)
	mux.HandleFunc("GET /api/admin/dashboard-stats/{$}", h.DashboardStats)
	mux.HandleFunc("GET /api/admin/dashboard-charts/{$}", h.DashboardCharts)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (access.Capability, bool) {
	c, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return access.Capability{}, false
	}
	return c, true
}

func (h *Handler) patient(w http.ResponseWriter, r *http.Request) (access.Capability, bool) {
	c, ok := h.caller(w, r)
	if !ok {
		return c, false
	}
	if err := c.RequireUser(); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return c, false
	}
	return c, true
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (access.Capability, bool) {
	c, ok := h.caller(w, r)
	if !ok {
		return c, false
	}
	if err := c.RequireAdmin(); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return c, false
	}
	return c, true
}

// flexID accepts 12, "12" or an empty value.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

func parseID(raw string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
