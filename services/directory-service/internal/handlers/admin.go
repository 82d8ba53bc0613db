package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
)

// rosterHospital is the hospital a roster request acts on. Superusers name it with
// ?hospital_id=.
func rosterHospital(c access.Capability, r *http.Request) (int64, error) {
	if c.Kind == access.HospitalAdmin {
		return c.HospitalID, nil
	}
	raw := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	if raw == "" {
		return 0, apperr.Validation("hospital_id is required.")
	}
	id, ok := parseID(raw)
	if !ok {
		return 0, apperr.Validation("Invalid hospital_id.")
	}
	return id, nil
}

func (h *Handler) MyDoctors(w http.ResponseWriter, r *http.Request) {
	h.listRoster(w, r, false)
}

func (h *Handler) UnassignedDoctors(w http.ResponseWriter, r *http.Request) {
	h.listRoster(w, r, true)
}

func (h *Handler) listRoster(w http.ResponseWriter, r *http.Request, unassigned bool) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := rosterHospital(c, r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	f := model.DoctorFilter{HospitalID: hospitalID}
	if unassigned {
		f = model.DoctorFilter{NotAtHospitalID: hospitalID}
	}
	list, err := h.catalog.ListDoctors(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list doctors", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

type addDoctorRequest struct {
	DoctorID  flexID `json:"doctor_id"`
	OPDCharge amount `json:"opd_charge"`
}

func (h *Handler) AddExistingDoctor(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := rosterHospital(c, r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	var req addDoctorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.DoctorID <= 0 || req.OPDCharge == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Doctor ID and OPD charge are required."))
		return
	}
	if err := h.validate.Var(string(req.OPDCharge), "money"); err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid OPD charge."))
		return
	}

	doctorName, hospitalName, err := h.roster.AddExistingDoctor(r.Context(), hospitalID, int64(req.DoctorID), string(req.OPDCharge))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Doctor not found."))
		return
	case errors.Is(err, storage.ErrAlreadyAssigned):
		httpx.WriteError(w, r, h.logger, apperr.Validation("This doctor is already in your hospital."))
		return
	case err != nil:
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to add doctor", err))
		return
	}
	h.invalidate(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"success": "Dr. " + doctorName + " has been added to " + hospitalName + ".",
	})
}

type createDoctorRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Specialty flexID `json:"specialty" validate:"gte=0"`
	Fees      amount `json:"fees" validate:"required,money"`
	About     string `json:"about" validate:"max=5000"`
	NMCNo     string `json:"nmc_no" validate:"required,max=50"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Photo     string `json:"photo" validate:"max=500"`
	OPDCharge amount `json:"opd_charge"`
}

// CreateDoctor accepts a JSON body or form fields.
func (h *Handler) CreateDoctor(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	hospitalID, err := rosterHospital(c, r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	req, err := decodeCreateDoctor(r)
	if err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	if req.OPDCharge == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("OPD charge is required."))
		return
	}
	if err := h.validate.Var(string(req.OPDCharge), "money"); err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid OPD charge."))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeFieldErrors(w, r, err)
		return
	}

	hash, err := h.hash([]byte(req.Password))
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to hash password", err))
		return
	}
	_, err = h.roster.CreateDoctor(r.Context(), hospitalID, model.NewDoctor{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		SpecialtyID:  int64(req.Specialty),
		Fees:         string(req.Fees),
		About:        req.About,
		NMCNo:        strings.TrimSpace(req.NMCNo),
		PasswordHash: string(hash),
		Photo:        strings.TrimSpace(req.Photo),
	}, string(req.OPDCharge))
	switch {
	case errors.Is(err, storage.ErrDuplicateDoctor):
		httpx.WriteError(w, r, h.logger, apperr.Validation("A doctor with that NMC number or email already exists."))
		return
	case errors.Is(err, storage.ErrUnknownSpecialty):
		httpx.WriteError(w, r, h.logger, apperr.Validation("Unknown specialty."))
		return
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Hospital not found."))
		return
	case err != nil:
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to create doctor", err))
		return
	}
	h.invalidate(r.Context())
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{
		"success": "Dr. " + strings.TrimSpace(req.Name) + " created and added to your hospital.",
	})
}

func decodeCreateDoctor(r *http.Request) (createDoctorRequest, error) {
	var req createDoctorRequest
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") && !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return req, httpx.DecodeJSON(r, &req)
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, apperr.Validation("invalid form body")
	}
	req.Name = r.FormValue("name")
	req.Email = r.FormValue("email")
	req.About = r.FormValue("about")
	req.NMCNo = r.FormValue("nmc_no")
	req.Password = r.FormValue("password")
	req.Photo = r.FormValue("photo")
	req.Fees = amount(strings.TrimSpace(r.FormValue("fees")))
	req.OPDCharge = amount(strings.TrimSpace(r.FormValue("opd_charge")))
	if raw := strings.TrimSpace(r.FormValue("specialty")); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return req, apperr.Validation("Unknown specialty.")
		}
		req.Specialty = flexID(id)
	}
	return req, nil
}

func (h *Handler) writeFieldErrors(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid doctor details."))
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "Invalid doctor details.",
		"fields": fields,
	})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "money":
		return "Enter a valid amount."
	case "min":
		return "Ensure this field has at least " + fe.Param() + " characters."
	case "max":
		return "Ensure this field has no more than " + fe.Param() + " characters."
	default:
		return "Invalid value."
	}
}

type scheduleResponse struct {
	DoctorName string `json:"doctor_name"`
	AllOptions struct {
		Days  []model.Day      `json:"days"`
		Times []model.TimeSlot `json:"times"`
	} `json:"all_options"`
	CurrentSchedule struct {
		DayIDs  []int64 `json:"day_ids"`
		TimeIDs []int64 `json:"time_ids"`
	} `json:"current_schedule"`
}

// scheduleScope is like rosterHospital but lets superusers reach any doctor.
func scheduleScope(c access.Capability) int64 {
	if c.Kind == access.HospitalAdmin {
		return c.HospitalID
	}
	return 0
}

var errScheduleNotFound = apperr.NotFound("Unauthorized or Doctor not found.")

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	doctorID, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, r, h.logger, errScheduleNotFound)
		return
	}
	s, err := h.roster.Schedule(r.Context(), scheduleScope(c), doctorID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, errScheduleNotFound)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to load schedule", err))
		return
	}
	var resp scheduleResponse
	resp.DoctorName = s.DoctorName
	resp.AllOptions.Days = s.Days
	resp.AllOptions.Times = s.Times
	resp.CurrentSchedule.DayIDs = s.DayIDs
	resp.CurrentSchedule.TimeIDs = s.TimeIDs
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	c, ok := h.admin(w, r)
	if !ok {
		return
	}
	doctorID, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, r, h.logger, errScheduleNotFound)
		return
	}
	var req struct {
		DayIDs  []flexID `json:"day_ids"`
		TimeIDs []flexID `json:"time_ids"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}

	err := h.roster.UpdateSchedule(r.Context(), scheduleScope(c), doctorID, ids(req.DayIDs), ids(req.TimeIDs))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, r, h.logger, errScheduleNotFound)
		return
	case errors.Is(err, storage.ErrInvalidSchedule):
		httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid day or time selection."))
		return
	case err != nil:
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to update schedule", err))
		return
	}
	h.invalidate(r.Context())
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"success": "Doctor's schedule updated successfully."})
}

func ids(in []flexID) []int64 {
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if id > 0 {
			out = append(out, int64(id))
		}
	}
	return out
}
