package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/storage"
)

const dateLayout = "2006-01-02"

type profileResponse struct {
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	IsHospitalAdmin bool    `json:"is_hospital_admin"`
	Phone           string  `json:"phone"`
	Address         string  `json:"address"`
	Gender          string  `json:"gender"`
	Birthday        *string `json:"birthday"`
	EmailVerified   bool    `json:"email_verified"`
}

type profileEnvelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	UserData profileResponse `json:"userData"`
}

// profileRequest holds the editable fields; email and name are read-only.
type profileRequest struct {
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
	Address  *string `json:"address"`
	Gender   *string `json:"gender" validate:"omitempty,max=10"`
	Birthday *string `json:"birthday"`
}

func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.users.Profile(r.Context(), userID)
	if err != nil {
		h.fail(w, r, profileError(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileEnvelope{Success: true, UserData: toProfileResponse(p)})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, err := decodeProfile(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, profileValidation(err))
		return
	}

	update := storage.ProfileUpdate{Phone: req.Phone, Address: req.Address, Gender: req.Gender}
	if req.Birthday != nil {
		update.SetBirthday = true
		if b := strings.TrimSpace(*req.Birthday); b != "" {
			day, err := time.Parse(dateLayout, b)
			if err != nil {
				h.fail(w, r, apperr.Validation("birthday must be YYYY-MM-DD"))
				return
			}
			update.Birthday = &day
		}
	}

	ctx := r.Context()
	if err := h.users.UpdateProfile(ctx, userID, update); err != nil {
		h.fail(w, r, profileError(err))
		return
	}
	p, err := h.users.Profile(ctx, userID)
	if err != nil {
		h.fail(w, r, profileError(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileEnvelope{
		Success:  true,
		Message:  "Profile updated successfully",
		UserData: toProfileResponse(p),
	})
}

// caller reads the user id the gateway derived from a verified token.
func (h *AuthHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(access.HeaderUserID))
	if userID == "" {
		h.fail(w, r, apperr.Unauthorized("authentication required"))
		return "", false
	}
	return userID, true
}

// decodeProfile accepts JSON, urlencoded and multipart bodies.
func decodeProfile(r *http.Request) (profileRequest, error) {
	var req profileRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return req, apperr.Validation("invalid form body")
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, apperr.Validation("invalid form body")
		}
	default:
		err := httpx.DecodeJSON(r, &req)
		return req, err
	}
	req.Phone = formField(r, "phone")
	req.Address = formField(r, "address")
	req.Gender = formField(r, "gender")
	req.Birthday = formField(r, "birthday")
	return req, nil
}

func formField(r *http.Request, key string) *string {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return nil
	}
	v := strings.TrimSpace(values[0])
	return &v
}

func toProfileResponse(p storage.Profile) profileResponse {
	out := profileResponse{
		Email:           p.Email,
		Name:            p.Name,
		IsHospitalAdmin: p.IsHospitalAdmin,
		Phone:           p.Phone,
		Address:         p.Address,
		Gender:          p.Gender,
		EmailVerified:   p.EmailVerified,
	}
	if p.Birthday != nil {
		b := p.Birthday.Format(dateLayout)
		out.Birthday = &b
	}
	return out
}

func profileError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("User profile not found")
	}
	return apperr.Internal("failed to load profile", err)
}

func profileValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		f := fieldErrs[0]
		if f.Tag() == "max" {
			return apperr.Validationf("%s must be at most %s characters", f.Field(), f.Param())
		}
		return apperr.Validationf("%s is invalid", f.Field())
	}
	return apperr.Validation("invalid profile")
}
