package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/model"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
)

func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListHospitals(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list hospitals", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetHospital(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Hospital not found"))
		return
	}
	hospital, err := h.catalog.Hospital(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Hospital not found"))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to load hospital", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hospital)
}

// ListDoctors filters by ?hospital_id= and a case-insensitive ?specialty= name.
func (h *Handler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f model.DoctorFilter
	if raw := strings.TrimSpace(q.Get("hospital_id")); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			httpx.WriteError(w, r, h.logger, apperr.Validation("Invalid hospital_id."))
			return
		}
		f.HospitalID = id
	}
	f.Specialty = strings.TrimSpace(q.Get("specialty"))

	list, err := h.catalog.ListDoctors(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list doctors", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r.PathValue("id"))
	if !ok {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Doctor not found"))
		return
	}
	doctor, err := h.catalog.Doctor(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Doctor not found"))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to load doctor", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doctor)
}

func (h *Handler) ListSpecialties(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.Specialties(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to list specialties", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	res, err := h.catalog.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("search failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) PredictSpecialty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symptom string `json:"symptom"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	symptom := strings.TrimSpace(req.Symptom)
	if symptom == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Symptom is required"))
		return
	}
	if h.classifier == nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("Specialty prediction is unavailable.", nil).WithStatus(http.StatusServiceUnavailable))
		return
	}
	p, err := h.classifier.Classify(r.Context(), symptom)
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("Specialty prediction is unavailable.", err).WithStatus(http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) SuggestDoctor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Specialty string `json:"specialty"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.logger, err)
		return
	}
	specialty := strings.TrimSpace(req.Specialty)
	if specialty == "" {
		httpx.WriteError(w, r, h.logger, apperr.Validation("Specialty not provided"))
		return
	}
	list, err := h.catalog.Suggestions(r.Context(), specialty)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("Specialty not found"))
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.logger, apperr.Internal("failed to suggest doctors", err))
		return
	}
	if len(list) == 0 {
		httpx.WriteError(w, r, h.logger, apperr.NotFound("No doctors found for this specialty"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"doctors": list})
}
