package handlers

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/otp"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type Users interface {
	CreatePendingTx(ctx context.Context, tx pgx.Tx, user storage.User, code string, issuedAt time.Time) error
	GetByEmail(ctx context.Context, email string) (storage.User, error)
	GetByID(ctx context.Context, id string) (storage.User, error)
	PendingOTPForUpdate(ctx context.Context, tx pgx.Tx, email string) (storage.PendingOTP, error)
	ReissueOTPTx(ctx context.Context, tx pgx.Tx, userID, code string, issuedAt time.Time) error
	ActivateTx(ctx context.Context, tx pgx.Tx, userID string) error
	Profile(ctx context.Context, userID string) (storage.Profile, error)
	UpdateProfile(ctx context.Context, userID string, u storage.ProfileUpdate) error
}

type Sessions interface {
	Create(ctx context.Context, userID, rawToken string, expiresAt time.Time) (string, error)
	GetByHash(ctx context.Context, hash string) (sessions.RefreshToken, error)
	Rotate(ctx context.Context, hash, rawNext string, expiresAt time.Time) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, id string) error
}

type Outbox interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Deps struct {
	Signer     TokenSigner
	Pool       db.Conn
	Users      Users
	Sessions   Sessions
	Outbox     Outbox
	Limiter    otp.Limiter
	Logger     *slog.Logger
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Now          func() time.Time
	NewOTP       func() (string, error)
	HashPassword func(password []byte) ([]byte, error)
}

type AuthHandler struct {
	signer     TokenSigner
	pool       db.Conn
	users      Users
	sessions   Sessions
	outbox     Outbox
	limiter    otp.Limiter
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	newOTP     func() (string, error)
	hash       func([]byte) ([]byte, error)
	validate   *validator.Validate
}

func NewAuthHandler(d Deps) *AuthHandler {
	h := &AuthHandler{
		signer:     d.Signer,
		pool:       d.Pool,
		users:      d.Users,
		sessions:   d.Sessions,
		outbox:     d.Outbox,
		limiter:    d.Limiter,
		logger:     d.Logger,
		accessTTL:  d.AccessTTL,
		refreshTTL: d.RefreshTTL,
		now:        d.Now,
		newOTP:     d.NewOTP,
		hash:       d.HashPassword,
	}
	if h.limiter == nil {
		h.limiter = otp.Unlimited{}
	}
	if h.accessTTL <= 0 {
		h.accessTTL = time.Hour
	}
	if h.refreshTTL <= 0 {
		h.refreshTTL = 30 * 24 * time.Hour
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newOTP == nil {
		h.newOTP = otp.Generate
	}
	if h.hash == nil {
		h.hash = func(p []byte) ([]byte, error) {
			hash, err := hashPassword(string(p))
			return []byte(hash), err
		}
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	h.validate = v
	return h
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/user/register/{$}", h.RegisterUser)
	mux.HandleFunc("POST /api/user/verify-otp/{$}", h.VerifyOTP)
	mux.HandleFunc("POST /api/user/resend-otp/{$}", h.ResendOTP)
	mux.HandleFunc("POST /api/user/login/{$}", h.Login)
	mux.HandleFunc("POST /api/user/token/refresh/{$}", h.Refresh)
	mux.HandleFunc("POST /api/user/logout/{$}", h.Logout)
	mux.HandleFunc("GET /api/user/me/{$}", h.Me)
	mux.HandleFunc("GET /api/user/profile/{$}", h.GetProfile)
	mux.HandleFunc("PUT /api/user/profile/{$}", h.UpdateProfile)
	mux.HandleFunc("GET /.well-known/jwks.json", h.JWKS)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh      string `json:"refresh"`
	RefreshToken string `json:"refresh_token"`
}

func (r refreshRequest) token() string {
	if t := strings.TrimSpace(r.Refresh); t != "" {
		return t
	}
	return strings.TrimSpace(r.RefreshToken)
}

type tokenResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Token     string `json:"token"`
	Refresh   string `json:"refresh"`
	TokenType string `json:"token_type"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type meResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	HospitalID int64  `json:"hospital_id,omitempty"`
}

var (
	errInvalidCredentials = apperr.Unauthorized("Invalid email or password")
	errInvalidRefresh     = apperr.Unauthorized("Token is invalid or expired")
	errUnknownUser        = apperr.NotFound("User not found. Please register first.")
)

// RegisterUser creates an inactive account and queues the OTP email.
func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("Name, email, and password are required."))
		return
	}
	if err := h.validate.Var(req.Email, "email"); err != nil {
		h.fail(w, r, apperr.Validation("Enter a valid email address."))
		return
	}

	hash, err := h.hash([]byte(req.Password))
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to hash password", err))
		return
	}
	code, err := h.newOTP()
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to generate otp", err))
		return
	}
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         auth.RolePatient,
	}
	issuedAt := h.now().UTC()

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to start transaction", err))
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.CreatePendingTx(ctx, tx, user, code, issuedAt); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			h.fail(w, r, apperr.Validation("An account with this email already exists."))
			return
		}
		h.fail(w, r, apperr.Internal("failed to create user", err))
		return
	}
	if err := h.enqueueOTP(ctx, tx, user.ID, user.Name, user.Email, code, issuedAt); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.fail(w, r, apperr.Internal("failed to commit transaction", err))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "OTP sent to " + user.Email + ". Please verify to complete registration.",
	})
}

// ResendOTP replaces the code of an account that has not been verified yet.
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		h.fail(w, r, apperr.Validation("Email is required."))
		return
	}
	code, err := h.newOTP()
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to generate otp", err))
		return
	}
	issuedAt := h.now().UTC()

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to start transaction", err))
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := h.users.PendingOTPForUpdate(ctx, tx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.fail(w, r, errUnknownUser)
			return
		}
		h.fail(w, r, apperr.Internal("failed to load user", err))
		return
	}
	if pending.Active {
		h.fail(w, r, apperr.Validation("This account is already verified."))
		return
	}
	if err := h.users.ReissueOTPTx(ctx, tx, pending.UserID, code, issuedAt); err != nil {
		h.fail(w, r, apperr.Internal("failed to store otp", err))
		return
	}
	if err := h.enqueueOTP(ctx, tx, pending.UserID, pending.Name, email, code, issuedAt); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.fail(w, r, apperr.Internal("failed to commit transaction", err))
		return
	}
	h.resetAttempts(ctx, email)

	httpx.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "A new OTP has been sent to " + email + ".",
	})
}

// VerifyOTP activates the account and signs the user in.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	email := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.OTP)
	if email == "" || code == "" {
		h.fail(w, r, apperr.Validation("Email and OTP are required."))
		return
	}

	ctx := r.Context()
	allowed, err := h.limiter.Allow(ctx, email)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("otp limiter unavailable", "err", err)
		}
		allowed = true
	}
	if !allowed {
		h.fail(w, r, apperr.Validation("Too many attempts. Please request a new OTP.").WithStatus(http.StatusTooManyRequests))
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to start transaction", err))
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := h.users.PendingOTPForUpdate(ctx, tx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.fail(w, r, errUnknownUser)
			return
		}
		h.fail(w, r, apperr.Internal("failed to load user", err))
		return
	}
	if pending.OTP == "" || subtle.ConstantTimeCompare([]byte(pending.OTP), []byte(code)) != 1 {
		h.fail(w, r, apperr.Validation("Invalid OTP."))
		return
	}
	if pending.IssuedAt == nil || otp.Expired(*pending.IssuedAt, h.now()) {
		h.fail(w, r, apperr.Validation("OTP has expired. Please request a new one."))
		return
	}
	if err := h.users.ActivateTx(ctx, tx, pending.UserID); err != nil {
		h.fail(w, r, apperr.Internal("failed to activate user", err))
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.fail(w, r, apperr.Internal("failed to commit transaction", err))
		return
	}
	h.resetAttempts(ctx, email)

	user, err := h.users.GetByID(ctx, pending.UserID)
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to load user", err))
		return
	}
	access, refresh, err := h.issueTokens(ctx, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Message:   "Email verified and registration successful!",
		Token:     access,
		Refresh:   refresh,
		TokenType: "Bearer",
		Name:      user.Name,
		Email:     user.Email,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("Email and password are required."))
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.fail(w, r, errInvalidCredentials)
			return
		}
		h.fail(w, r, apperr.Internal("failed to lookup user", err))
		return
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil || !user.IsActive {
		h.fail(w, r, errInvalidCredentials)
		return
	}

	access, refresh, err := h.issueTokens(ctx, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Token:     access,
		Refresh:   refresh,
		TokenType: "Bearer",
		Name:      user.Name,
		Email:     user.Email,
	})
}

// Refresh exchanges a refresh token for a new pair; the presented token is revoked.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	raw := req.token()
	if raw == "" {
		h.fail(w, r, apperr.Validation("refresh is required"))
		return
	}
	next, err := newRefreshToken()
	if err != nil {
		h.fail(w, r, apperr.Internal("failed to issue refresh token", err))
		return
	}

	ctx := r.Context()
	old, err := h.sessions.Rotate(ctx, sessions.HashToken(raw), next, h.now().Add(h.refreshTTL))
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			h.fail(w, r, errInvalidRefresh)
			return
		}
		h.fail(w, r, apperr.Internal("failed to rotate refresh token", err))
		return
	}
	user, err := h.users.GetByID(ctx, old.UserID)
	if err != nil || !user.IsActive {
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			h.fail(w, r, errInvalidRefresh)
			return
		}
		h.fail(w, r, apperr.Internal("failed to lookup user", err))
		return
	}
	access, err := h.signAccess(user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		Success:   true,
		Token:     access,
		Refresh:   next,
		TokenType: "Bearer",
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	raw := req.token()
	if raw == "" {
		h.fail(w, r, apperr.Validation("refresh is required"))
		return
	}

	token, err := h.sessions.GetByHash(r.Context(), sessions.HashToken(raw))
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.fail(w, r, apperr.Internal("failed to lookup refresh token", err))
		return
	}
	if token.RevokedAt == nil {
		if err := h.sessions.Revoke(r.Context(), token.ID); err != nil {
			h.fail(w, r, apperr.Internal("failed to revoke refresh token", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		h.fail(w, r, apperr.Unauthorized("missing or invalid Authorization header"))
		return
	}
	claims, err := h.signer.Verify(token)
	if err != nil {
		h.fail(w, r, apperr.Unauthorized("invalid token"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		UserID:     claims.Subject,
		Email:      claims.Email,
		Role:       claims.Role,
		HospitalID: claims.HospitalID,
	})
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	keys := h.signer.JWKS()
	if len(keys) == 0 {
		h.fail(w, r, apperr.NotFound("jwks not available"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *AuthHandler) enqueueOTP(ctx context.Context, tx pgx.Tx, userID, name, email, code string, issuedAt time.Time) error {
	evt, err := outbox.NewEvent("user", userID, events.UserRegistered, events.UserRegisteredPayload{
		UserID:    userID,
		Email:     email,
		Name:      name,
		OTP:       code,
		ExpiresAt: issuedAt.Add(otp.TTL).Format(time.RFC3339),
	})
	if err != nil {
		return apperr.Internal("failed to marshal user event", err)
	}
	if err := h.outbox.Insert(ctx, tx, evt); err != nil {
		return apperr.Internal("failed to enqueue user event", err)
	}
	return nil
}

func (h *AuthHandler) resetAttempts(ctx context.Context, email string) {
	if err := h.limiter.Reset(ctx, email); err != nil && h.logger != nil {
		h.logger.Warn("otp limiter reset failed", "err", err)
	}
}

func (h *AuthHandler) signAccess(user storage.User) (string, error) {
	token, err := h.signer.Sign(auth.NewClaims(user.ID, user.Role, user.Email, user.HospitalID, h.accessTTL))
	if err != nil {
		return "", apperr.Internal("failed to issue token", err)
	}
	return token, nil
}

func (h *AuthHandler) issueTokens(ctx context.Context, user storage.User) (string, string, error) {
	access, err := h.signAccess(user)
	if err != nil {
		return "", "", err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return "", "", apperr.Internal("failed to issue refresh token", err)
	}
	if _, err := h.sessions.Create(ctx, user.ID, raw, h.now().Add(h.refreshTTL)); err != nil {
		return "", "", apperr.Internal("failed to issue refresh token", err)
	}
	return access, raw, nil
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
