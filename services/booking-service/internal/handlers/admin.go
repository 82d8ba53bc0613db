package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
)

// scope is the hospital an admin request reads. Superusers pick one with ?hospital_id=, or
// every hospital when required is false.
func scope(c access.Capability, r *http.Request, required bool) (int64, error) {
	if c.Kind == access.HospitalAdmin {
		return c.HospitalID, nil
	}
	raw := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	if raw == "" {
		if required {
			return 0, apperr.Validation("hospital_id is required.")
		}
		return 0, nil
	}
	id, ok := parseID(raw)
	if !ok {
		return 0, apperr.Validation("Invalid hospital_id.")
	}
	return id, nil
}

type hospitalAppointmentItem struct {
	ID                  int64  `json:"id"`
	PatientName         string `json:"patient_name"`
	DoctorName          string `json:"doctor_name"`
	AppointmentDatetime string `json:"appointment_datetime"`
	Fees                string `json:"fees"`
	Status              string `json:"status"`
	DoctorPhoto         string `json:"doctor_photo"`
}

func (h *Handler) HospitalAppointments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := scope(c, r, false)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	list, err := h.queries.HospitalAppointments(r.Context(), model.AppointmentFilter{HospitalID: hospitalID})
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list appointments", err))
		return
	}
	out := make([]hospitalAppointmentItem, 0, len(list))
	for _, a := range list {
		out = append(out, hospitalAppointmentItem{
			ID:                  a.ID,
			PatientName:         a.PatientName,
			DoctorName:          a.DoctorName,
			AppointmentDatetime: a.DateTime.In(h.loc).Format("02 Jan 2006, 03:04 PM"),
			Fees:                a.DoctorFee,
			Status:              string(a.Status),
			DoctorPhoto:         a.DoctorPhoto,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type statusRequest struct {
	AppointmentID flexID `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.AppointmentID <= 0 || strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Appointment ID and new status are required."))
		return
	}
	if _, err := h.lifecycle.SetStatus(r.Context(), int64(req.AppointmentID), req.Status, c); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Status updated successfully"})
}

func (h *Handler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid appointment id."))
		return
	}
	if _, err := h.lifecycle.Cancel(r.Context(), id, c); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type adminPatient struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type adminDoctor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type adminAppointmentItem struct {
	ID                  int64        `json:"id"`
	Patient             adminPatient `json:"patient"`
	Doctor              adminDoctor  `json:"doctor"`
	Hospital            string       `json:"hospital"`
	AppointmentDatetime string       `json:"appointment_datetime"`
	Status              string       `json:"status"`
	PaymentStatus       bool         `json:"payment_status"`
	PaymentMethod       *string      `json:"payment_method"`
	PaymentAmount       string       `json:"payment_amount"`
}

func (h *Handler) adminItems(list []model.AdminAppointment) []adminAppointmentItem {
	out := make([]adminAppointmentItem, 0, len(list))
	for _, a := range list {
		first, last, _ := strings.Cut(strings.TrimSpace(a.PatientName), " ")
		item := adminAppointmentItem{
			ID:                  a.ID,
			Patient:             adminPatient{ID: a.PatientID, FirstName: first, LastName: strings.TrimSpace(last), Email: a.PatientEmail},
			Doctor:              adminDoctor{ID: a.DoctorID, Name: a.DoctorName},
			Hospital:            a.HospitalName,
			AppointmentDatetime: a.DateTime.In(h.loc).Format(time.RFC3339),
			Status:              string(a.Status),
			PaymentStatus:       a.PaymentStatus,
			PaymentAmount:       a.PaymentAmount,
		}
		if a.PaymentMethod != "" {
			method := a.PaymentMethod
			item.PaymentMethod = &method
		}
		out = append(out, item)
	}
	return out
}

func (h *Handler) AllAppointments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := scope(c, r, false)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	filter := model.AppointmentFilter{HospitalID: hospitalID}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("doctor_id")); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid doctor_id."))
			return
		}
		filter.DoctorID = id
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := model.ParseAdminStatus(raw)
		if !ok && strings.EqualFold(raw, string(model.StatusPending)) {
			status, ok = model.StatusPending, true
		}
		if !ok {
			httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid status."))
			return
		}
		filter.Status = string(status)
	}
	if q.Has("payment_status") {
		paid := strings.EqualFold(strings.TrimSpace(q.Get("payment_status")), "true")
		filter.PaymentStatus = &paid
	}

	list, err := h.queries.HospitalAppointments(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list appointments", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.adminItems(list))
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := scope(c, r, true)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	now := h.now().In(h.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc)

	stats, err := h.queries.DashboardStats(r.Context(), hospitalID, dayStart)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Hospital not found."))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to load dashboard", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"hospital_name":               stats.HospitalName,
		"todays_appointments_count":   stats.TodayCount,
		"upcoming_appointments_count": stats.UpcomingCount,
		"todays_revenue":              stats.TodayRevenue,
		"pending_payments_count":      stats.PendingPayments,
		"todays_schedule":             h.adminItems(stats.TodaysSchedule),
	})
}

type doctorCount struct {
	DoctorName string `json:"doctor__name"`
	Count      int    `json:"count"`
}

type statusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *Handler) DashboardCharts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := scope(c, r, true)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	charts, err := h.queries.DashboardCharts(r.Context(), hospitalID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to load dashboard", err))
		return
	}
	byDoctor := make([]doctorCount, 0, len(charts.ByDoctor))
	for _, c := range charts.ByDoctor {
		byDoctor = append(byDoctor, doctorCount{DoctorName: c.Label, Count: c.Count})
	}
	byStatus := make([]statusCount, 0, len(charts.ByStatus))
	for _, c := range charts.ByStatus {
		byStatus = append(byStatus, statusCount{Status: c.Label, Count: c.Count})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"appointments_by_doctor": byDoctor,
		"appointments_by_status": byStatus,
	})
}
