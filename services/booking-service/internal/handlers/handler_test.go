package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage/storagetest"
)

var kathmandu = time.FixedZone("NPT", 5*3600+45*60)

// Monday 2026-01-26, 09:00 local.
var monday = time.Date(2026, 1, 26, 9, 0, 0, 0, kathmandu)

type admins map[string]int64

func (a admins) AdminHospital(_ context.Context, userID string) (int64, bool, error) {
	id, ok := a[userID]
	return id, ok, nil
}

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func (c client) do(method, path, user, role string, body any) (int, any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	if user != "" {
		req.Header.Set(access.HeaderUserID, user)
		req.Header.Set(access.HeaderRole, role)
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		c.t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func setup(t *testing.T) (client, *storagetest.Store) {
	t.Helper()
	store := storagetest.New()
	store.AddHospital(3, "City Hospital")
	store.AddDoctor(7, storagetest.Doctor{
		Name: "Dr. A",
		Fee:  "500.00",
		Template: availability.Template{
			Days:  []time.Weekday{time.Monday},
			Slots: []availability.Slot{{ID: 1, Time: "10:00:00"}, {ID: 2, Time: "10:30:00"}},
		},
	})
	store.AddUser("patient-1", storagetest.User{Name: "Sita Sharma", Email: "sita@example.com"})
	store.AddUser("patient-2", storagetest.User{Name: "Ram", Email: "ram@example.com"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(Deps{
		Engine:    booking.NewEngine(store, store, kathmandu, booking.WithClock(func() time.Time { return monday })),
		Payments:  payment.NewService(store, payment.EsewaConfig{}),
		Lifecycle: lifecycle.NewManager(store, nil),
		Queries:   store,
		Resolver:  access.NewResolver(admins{"admin-3": 3, "admin-4": 4}),
		Logger:    logger,
		Now:       func() time.Time { return monday },
	})
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return client{t: t, srv: srv}, store
}

func field(v any, key string) any {
	m, _ := v.(map[string]any)
	return m[key]
}

func TestBookPayCancelFlow(t *testing.T) {
	c, store := setup(t)

	code, body := c.do(http.MethodGet, "/api/available-slots/?doctor_id=7&date=2026-02-02", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body, 2)

	code, body = c.do(http.MethodPost, "/api/book-appointment/", "patient-1", "patient",
		map[string]any{"doctor_id": "7", "hospital_id": 3, "day": "Monday", "time": "10:00"})
	require.Equal(t, http.StatusCreated, code, "%v", body)
	assert.Equal(t, "Appointment created. Proceed to payment.", field(body, "message"))
	first := int64(field(body, "appointment_id").(float64))

	code, body = c.do(http.MethodPost, "/api/book-appointment/", "patient-2", "patient",
		map[string]any{"doctor_id": 7, "hospital_id": 3, "day": "Monday", "time": "10:00"})
	require.Equal(t, http.StatusCreated, code, "pending bookings do not hold the slot: %v", body)
	second := int64(field(body, "appointment_id").(float64))

	code, body = c.do(http.MethodGet, "/api/available-slots/?doctor_id=7&date=2026-02-02", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body, 1)
	assert.Equal(t, "10:30:00", field(body.([]any)[0], "time"))

	code, body = c.do(http.MethodPost, "/api/initiate-payment/", "patient-1", "patient", map[string]any{"appointment_id": first})
	require.Equal(t, http.StatusOK, code, "%v", body)
	form := field(body, "form_data").(map[string]any)
	assert.Equal(t, "500.00", form["total_amount"])
	token := form["transaction_uuid"].(string)

	code, body = c.do(http.MethodPost, "/api/verify-payment/", "patient-1", "patient", map[string]any{"transaction_uuid": token})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Payment verified successfully.", field(body, "message"))

	code, body = c.do(http.MethodPost, "/api/verify-payment/", "patient-1", "patient", map[string]any{"transaction_uuid": token})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Payment already verified.", field(body, "message"))

	code, body = c.do(http.MethodPost, "/api/initiate-payment/", "patient-2", "patient", map[string]any{"appointment_id": second})
	require.Equal(t, http.StatusOK, code)
	token2 := field(body, "form_data").(map[string]any)["transaction_uuid"].(string)
	code, body = c.do(http.MethodPost, "/api/verify-payment/", "patient-2", "patient", map[string]any{"transaction_uuid": token2})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "This appointment slot is already taken.", field(body, "error"))

	code, _ = c.do(http.MethodPost, "/api/cancel-appointment/", "patient-2", "patient", map[string]any{"appointment_id": first})
	assert.Equal(t, http.StatusNotFound, code)
	appt, _ := store.Appointment(first)
	assert.Equal(t, model.StatusBooked, appt.Status)

	code, body = c.do(http.MethodGet, "/api/my-appointments/", "patient-1", "patient", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body, 1)
	mine := body.([]any)[0]
	assert.Equal(t, "2026-02-02", field(mine, "date"))
	assert.Equal(t, "10:00", field(mine, "time"))
	assert.Equal(t, true, field(mine, "payment"))
	assert.Equal(t, false, field(mine, "cancelled"))

	code, body = c.do(http.MethodPost, "/api/cancel-appointment/", "patient-1", "patient", map[string]any{"appointment_id": first})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, field(body, "success"))
	assert.Equal(t, "Appointment cancelled", field(body, "message"))

	assert.Equal(t, []string{
		"booking.appointment.created.v1",
		"booking.appointment.created.v1",
		"booking.appointment.paid.v1",
		"booking.appointment.canceled.v1",
	}, store.EventTypes())
}

func TestBookingRequestValidation(t *testing.T) {
	c, _ := setup(t)

	code, _ := c.do(http.MethodPost, "/api/book-appointment/", "", "", map[string]any{"doctor_id": 7})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := c.do(http.MethodPost, "/api/book-appointment/", "patient-1", "patient", map[string]any{"doctor_id": 7})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "doctor_id, hospital_id, day, and time are required.", field(body, "error"))

	code, body = c.do(http.MethodGet, "/api/available-slots/?doctor_id=7", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "doctor_id and date are required.", field(body, "error"))

	code, _ = c.do(http.MethodGet, "/api/available-slots/?doctor_id=7&date=02-02-2026", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = c.do(http.MethodGet, "/api/available-slots/?doctor_id=99&date=2026-02-02", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = c.do(http.MethodGet, "/api/available-slots/?doctor_id=7&date=2026-02-03", "", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body)
}

func TestAdminEndpoints(t *testing.T) {
	c, store := setup(t)
	booked := store.Put(model.Appointment{
		PatientID: "patient-1", DoctorID: 7, HospitalID: 3,
		DateTime: time.Date(2026, 1, 26, 14, 30, 0, 0, kathmandu),
		Status:   model.StatusBooked, PaymentStatus: true, PaymentMethod: "eSewa", PaymentAmount: "500.00",
	})

	code, _ := c.do(http.MethodGet, "/api/hospital-appointments/", "patient-1", "patient", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := c.do(http.MethodGet, "/api/hospital-appointments/", "admin-3", "hospital_admin", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body, 1)
	item := body.([]any)[0]
	assert.Equal(t, "26 Jan 2026, 02:30 PM", field(item, "appointment_datetime"))
	assert.Equal(t, "500.00", field(item, "fees"))
	assert.Equal(t, "Sita Sharma", field(item, "patient_name"))

	code, _ = c.do(http.MethodPost, "/api/update-appointment-status/", "admin-4", "hospital_admin",
		map[string]any{"appointment_id": booked, "status": "completed"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = c.do(http.MethodPost, "/api/admin/update-appointment-status/", "admin-3", "hospital_admin",
		map[string]any{"appointment_id": booked, "status": "pending"})
	assert.Equal(t, http.StatusBadRequest, code, "%v", body)

	code, body = c.do(http.MethodPost, "/api/update-appointment-status/", "admin-3", "hospital_admin",
		map[string]any{"appointment_id": booked, "status": "completed"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Status updated successfully", field(body, "message"))

	code, body = c.do(http.MethodGet, "/api/admin/dashboard-stats/", "admin-3", "hospital_admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "City Hospital", field(body, "hospital_name"))
	assert.Equal(t, float64(1), field(body, "todays_appointments_count"))
	assert.Equal(t, "500.00", field(body, "todays_revenue"))
	schedule := field(body, "todays_schedule").([]any)
	require.Len(t, schedule, 1)
	assert.Equal(t, "Sita", field(field(schedule[0], "patient"), "first_name"))
	assert.Equal(t, "eSewa", field(schedule[0], "payment_method"))

	code, body = c.do(http.MethodGet, "/api/admin/dashboard-charts/", "admin-3", "hospital_admin", nil)
	require.Equal(t, http.StatusOK, code)
	byDoctor := field(body, "appointments_by_doctor").([]any)
	require.Len(t, byDoctor, 1)
	assert.Equal(t, "Dr. A", field(byDoctor[0], "doctor__name"))

	code, body = c.do(http.MethodGet, "/api/admin/all-appointments/?status=completed&payment_status=true", "admin-3", "hospital_admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body, 1)

	code, body = c.do(http.MethodGet, "/api/admin/all-appointments/?payment_status=false", "admin-3", "hospital_admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body, 0)

	code, _ = c.do(http.MethodGet, "/api/admin/dashboard-stats/", "root", "superuser", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = c.do(http.MethodPost, "/api/admin/cancel-appointment/"+strconv.FormatInt(booked, 10)+"/", "root", "superuser", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, field(body, "success"))
	appt, _ := store.Appointment(booked)
	assert.Equal(t, model.StatusCanceled, appt.Status)
}

func TestStripeWebhookWithoutGateway(t *testing.T) {
	c, _ := setup(t)
	code, _ := c.do(http.MethodPost, "/api/payments/webhooks/stripe", "", "", map[string]any{"id": "evt_1"})
	assert.Equal(t, http.StatusNotImplemented, code)
}
