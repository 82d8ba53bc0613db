package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/model"
)

type slotItem struct {
	ID   int64  `json:"id"`
	Time string `json:"time"`
}

func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	rawDoctor := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	rawDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if rawDoctor == "" || rawDate == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("doctor_id and date are required."))
		return
	}
	doctorID, ok := parseID(rawDoctor)
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid doctor_id or date format."))
		return
	}
	date, err := availability.ParseDate(rawDate, h.loc)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid doctor_id or date format."))
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	out := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotItem{ID: s.ID, Time: s.Time})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type bookRequest struct {
	DoctorID   flexID `json:"doctor_id"`
	HospitalID flexID `json:"hospital_id"`
	Day        string `json:"day"`
	Time       string `json:"time"`
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	appt, err := h.engine.Book(r.Context(), booking.Request{
		PatientID:  c.UserID,
		DoctorID:   int64(req.DoctorID),
		HospitalID: int64(req.HospitalID),
		Day:        strings.TrimSpace(req.Day),
		Time:       strings.TrimSpace(req.Time),
	})
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	h.logger.Info("appointment created", "appointment_id", appt.ID, "doctor_id", appt.DoctorID, "hospital_id", appt.HospitalID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":        "Appointment created. Proceed to payment.",
		"appointment_id": appt.ID,
	})
}

type patientAppointmentItem struct {
	ID              int64   `json:"id"`
	DoctorName      string  `json:"doctor_name"`
	DoctorPhoto     string  `json:"doctor_photo"`
	DoctorSpecialty *string `json:"doctor_specialty"`
	DoctorAddress   string  `json:"doctor_address"`
	Date            string  `json:"date"`
	Time            string  `json:"time"`
	Cancelled       bool    `json:"cancelled"`
	Payment         bool    `json:"payment"`
}

func (h *Handler) MyAppointments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	list, err := h.queries.PatientAppointments(r.Context(), c.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list appointments", err))
		return
	}
	out := make([]patientAppointmentItem, 0, len(list))
	for _, a := range list {
		local := a.DateTime.In(h.loc)
		out = append(out, patientAppointmentItem{
			ID:              a.ID,
			DoctorName:      a.DoctorName,
			DoctorPhoto:     a.DoctorPhoto,
			DoctorSpecialty: a.DoctorSpecialty,
			DoctorAddress:   a.DoctorAddress,
			Date:            local.Format("2006-01-02"),
			Time:            local.Format("15:04"),
			Cancelled:       a.Status == model.StatusCanceled,
			Payment:         a.PaymentStatus,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type appointmentRequest struct {
	AppointmentID flexID `json:"appointment_id"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.patient(w, r)
	if !ok {
		return
	}
	var req appointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.AppointmentID <= 0 {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Appointment ID is required"))
		return
	}
	// The patient endpoint only ever acts as the owner, whatever the caller's role.
	c.Kind, c.HospitalID = access.Patient, 0
	if _, err := h.lifecycle.Cancel(r.Context(), int64(req.AppointmentID), c); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Appointment cancelled"})
}
