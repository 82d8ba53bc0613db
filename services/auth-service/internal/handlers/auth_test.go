package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/events"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/otp"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/storage"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

type memUsers struct {
	mu       sync.Mutex
	users    map[string]storage.User
	otps     map[string]storage.PendingOTP
	profiles map[string]storage.Profile
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    map[string]storage.User{},
		otps:     map[string]storage.PendingOTP{},
		profiles: map[string]storage.Profile{},
	}
}

func (m *memUsers) CreatePendingTx(_ context.Context, _ pgx.Tx, u storage.User, code string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return storage.ErrEmailTaken
		}
	}
	m.users[u.ID] = u
	m.otps[u.ID] = storage.PendingOTP{UserID: u.ID, Name: u.Name, OTP: code, IssuedAt: &issuedAt}
	m.profiles[u.ID] = storage.Profile{Email: u.Email, Name: u.Name}
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) PendingOTPForUpdate(ctx context.Context, _ pgx.Tx, email string) (storage.PendingOTP, error) {
	u, err := m.GetByEmail(ctx, email)
	if err != nil {
		return storage.PendingOTP{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.otps[u.ID]
	p.Active = u.IsActive
	return p, nil
}

func (m *memUsers) ReissueOTPTx(_ context.Context, _ pgx.Tx, userID, code string, issuedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.otps[userID]
	p.OTP, p.IssuedAt = code, &issuedAt
	m.otps[userID] = p
	return nil
}

func (m *memUsers) ActivateTx(_ context.Context, _ pgx.Tx, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.IsActive = true
	m.users[userID] = u
	m.otps[userID] = storage.PendingOTP{UserID: userID, Name: u.Name}
	p := m.profiles[userID]
	p.EmailVerified = true
	m.profiles[userID] = p
	return nil
}

func (m *memUsers) Profile(_ context.Context, userID string) (storage.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return storage.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memUsers) UpdateProfile(_ context.Context, userID string, u storage.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Address != nil {
		p.Address = *u.Address
	}
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.SetBirthday {
		p.Birthday = u.Birthday
	}
	m.profiles[userID] = p
	return nil
}

func (m *memUsers) add(u storage.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.profiles[u.ID] = storage.Profile{Email: u.Email, Name: u.Name, EmailVerified: u.IsActive}
}

type memSessions struct {
	mu     sync.Mutex
	tokens map[string]sessions.RefreshToken
}

func (s *memSessions) Create(_ context.Context, userID, raw string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "rt-" + raw[:8]
	s.tokens[sessions.HashToken(raw)] = sessions.RefreshToken{ID: id, UserID: userID, Hash: sessions.HashToken(raw), ExpiresAt: expiresAt}
	return id, nil
}

func (s *memSessions) GetByHash(_ context.Context, hash string) (sessions.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return sessions.RefreshToken{}, sessions.ErrNotFound
	}
	return t, nil
}

func (s *memSessions) Rotate(ctx context.Context, hash, rawNext string, expiresAt time.Time) (sessions.RefreshToken, error) {
	s.mu.Lock()
	t, ok := s.tokens[hash]
	if !ok || t.RevokedAt != nil {
		s.mu.Unlock()
		return sessions.RefreshToken{}, sessions.ErrNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	s.tokens[hash] = t
	s.mu.Unlock()
	_, err := s.Create(ctx, t.UserID, rawNext, expiresAt)
	return t, err
}

func (s *memSessions) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.tokens {
		if t.ID == id {
			now := time.Now()
			t.RevokedAt = &now
			s.tokens[h] = t
		}
	}
	return nil
}

type memOutbox struct {
	events []outbox.Event
}

func (o *memOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	o.events = append(o.events, evt)
	return nil
}

type fixture struct {
	handler  *AuthHandler
	mux      *http.ServeMux
	pool     pgxmock.PgxPoolIface
	users    *memUsers
	sessions *memSessions
	outbox   *memOutbox
	now      time.Time
}

func newFixture(t *testing.T, limiter otp.Limiter) *fixture {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	f := &fixture{
		pool:     pool,
		users:    newMemUsers(),
		sessions: &memSessions{tokens: map[string]sessions.RefreshToken{}},
		outbox:   &memOutbox{},
		now:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.handler = NewAuthHandler(Deps{
		Signer:       NewHS256Signer("test-secret"),
		Pool:         pool,
		Users:        f.users,
		Sessions:     f.sessions,
		Outbox:       f.outbox,
		Limiter:      limiter,
		Now:          func() time.Time { return f.now },
		NewOTP:       func() (string, error) { return "482913", nil },
		HashPassword: func(p []byte) ([]byte, error) { return bcrypt.GenerateFromPassword(p, bcrypt.MinCost) },
	})
	f.mux = http.NewServeMux()
	f.handler.Register(f.mux)
	return f
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (f *fixture) activeUser(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	f.users.add(storage.User{ID: id, Email: email, Name: "Sita Sharma", PasswordHash: string(hash), Role: auth.RolePatient, IsActive: true})
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t, nil)

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr := f.do(http.MethodPost, "/api/user/register/", map[string]string{
		"name": "Ram Thapa", "email": " Ram@Example.com ", "password": "s3cret!",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "OTP sent to ram@example.com. Please verify to complete registration.", decode(t, rr)["message"])

	require.Len(t, f.outbox.events, 1)
	evt := f.outbox.events[0]
	assert.Equal(t, events.UserRegistered, evt.EventType)
	var payload events.UserRegisteredPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "482913", payload.OTP)
	assert.Equal(t, "ram@example.com", payload.Email)
	assert.Equal(t, "2025-03-01T09:05:00Z", payload.ExpiresAt)

	rr = f.do(http.MethodPost, "/api/user/login/", map[string]string{"email": "ram@example.com", "password": "s3cret!"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "inactive users cannot log in")

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "ram@example.com", "otp": "000000"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid OTP.", decode(t, rr)["error"])

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "ram@example.com", "otp": "482913"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "Email verified and registration successful!", body["message"])
	claims, err := auth.ParseAndVerifyHS256(body["token"].(string), "test-secret")
	require.NoError(t, err)
	assert.Equal(t, auth.RolePatient, claims.Role)
	assert.Equal(t, "ram@example.com", claims.Email)
	assert.NotEmpty(t, body["refresh"])

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "ram@example.com", "otp": "482913"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "a consumed code cannot be reused")

	rr = f.do(http.MethodPost, "/api/user/login/", map[string]string{"email": "RAM@example.com", "password": "s3cret!"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Ram Thapa", decode(t, rr)["name"])

	rr = f.do(http.MethodPost, "/api/user/login/", map[string]string{"email": "ram@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid email or password", decode(t, rr)["error"])

	require.NoError(t, f.pool.ExpectationsWereMet())
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.activeUser(t, "u-1", "sita@example.com", "pw")

	rr := f.do(http.MethodPost, "/api/user/register/", map[string]string{"email": "a@b.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Name, email, and password are required.", decode(t, rr)["error"])

	rr = f.do(http.MethodPost, "/api/user/register/", map[string]string{"name": "X", "email": "not-an-email", "password": "p"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/register/", map[string]string{"name": "Sita", "email": "sita@example.com", "password": "p"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "An account with this email already exists.", decode(t, rr)["error"])
	assert.Empty(t, f.outbox.events)
	require.NoError(t, f.pool.ExpectationsWereMet())
}

func TestVerifyOTPExpiredAndResend(t *testing.T) {
	f := newFixture(t, nil)

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr := f.do(http.MethodPost, "/api/user/register/", map[string]string{"name": "Hari", "email": "hari@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rr.Code)

	f.now = f.now.Add(otp.TTL + time.Second)
	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "hari@example.com", "otp": "482913"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "OTP has expired. Please request a new one.", decode(t, rr)["error"])

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr = f.do(http.MethodPost, "/api/user/resend-otp/", map[string]string{"email": "hari@example.com"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, f.outbox.events, 2)

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "hari@example.com", "otp": "482913"})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/resend-otp/", map[string]string{"email": "hari@example.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "This account is already verified.", decode(t, rr)["error"])

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "ghost@example.com", "otp": "1"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	require.NoError(t, f.pool.ExpectationsWereMet())
}

func TestVerifyOTPThrottled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f := newFixture(t, otp.NewRedisLimiter(rdb, 1, time.Minute, "test:otp"))

	f.pool.ExpectBegin()
	f.pool.ExpectCommit()
	rr := f.do(http.MethodPost, "/api/user/register/", map[string]string{"name": "Gita", "email": "gita@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rr.Code)

	f.pool.ExpectBegin()
	f.pool.ExpectRollback()
	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "gita@example.com", "otp": "111111"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/api/user/verify-otp/", map[string]string{"email": "gita@example.com", "otp": "482913"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NoError(t, f.pool.ExpectationsWereMet())
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	f := newFixture(t, nil)
	f.activeUser(t, "u-1", "sita@example.com", "pw")

	rr := f.do(http.MethodPost, "/api/user/login/", map[string]string{"email": "sita@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, rr.Code)
	first := decode(t, rr)["refresh"].(string)

	rr = f.do(http.MethodPost, "/api/user/token/refresh/", map[string]string{"refresh": first})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	second := decode(t, rr)["refresh"].(string)
	assert.NotEqual(t, first, second)

	rr = f.do(http.MethodPost, "/api/user/token/refresh/", map[string]string{"refresh": first})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "rotated token must not be reusable")

	rr = f.do(http.MethodPost, "/api/user/logout/", map[string]string{"refresh_token": second})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(http.MethodPost, "/api/user/token/refresh/", map[string]string{"refresh": second})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodPost, "/api/user/logout/", map[string]string{"refresh": "unknown"})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(http.MethodPost, "/api/user/token/refresh/", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.activeUser(t, "u-1", "sita@example.com", "pw")

	rr := f.do(http.MethodGet, "/api/user/profile/", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodGet, "/api/user/profile/", nil, access.HeaderUserID, "u-1")
	require.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["userData"].(map[string]any)
	assert.Equal(t, "sita@example.com", data["email"])
	assert.Nil(t, data["birthday"])

	rr = f.do(http.MethodPut, "/api/user/profile/", map[string]any{
		"phone": "9800000000", "birthday": "1990-04-12", "name": "ignored",
	}, access.HeaderUserID, "u-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "Profile updated successfully", body["message"])
	data = body["userData"].(map[string]any)
	assert.Equal(t, "9800000000", data["phone"])
	assert.Equal(t, "1990-04-12", data["birthday"])
	assert.Equal(t, "Sita Sharma", data["name"])

	form := url.Values{"gender": {"Female"}, "birthday": {""}}
	req := httptest.NewRequest(http.MethodPut, "/api/user/profile/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(access.HeaderUserID, "u-1")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data = decode(t, rec)["userData"].(map[string]any)
	assert.Equal(t, "Female", data["gender"])
	assert.Equal(t, "9800000000", data["phone"], "fields absent from the form are unchanged")
	assert.Nil(t, data["birthday"])

	rr = f.do(http.MethodPut, "/api/user/profile/", map[string]any{"birthday": "12/04/1990"}, access.HeaderUserID, "u-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodPut, "/api/user/profile/", map[string]any{"phone": strings.Repeat("9", 21)}, access.HeaderUserID, "u-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "phone must be at most 20 characters", decode(t, rr)["error"])

	rr = f.do(http.MethodGet, "/api/user/profile/", nil, access.HeaderUserID, "missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMeAndJWKSWithKeySet(t *testing.T) {
	oldKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := NewKeySetSigner(map[string]*rsa.PrivateKey{"old": oldKey, "new": newKey}, "new")
	require.NoError(t, err)

	h := NewAuthHandler(Deps{Signer: signer})
	mux := http.NewServeMux()
	h.Register(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 2)
	assert.Equal(t, "new", doc.Keys[0]["kid"])
	assert.Equal(t, "old", doc.Keys[1]["kid"])

	legacy, err := auth.SignRS256(auth.NewClaims("u-9", auth.RoleHospitalAdmin, "admin@example.com", 3, time.Hour), oldKey, "old")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
	req.Header.Set("Authorization", "Bearer "+legacy)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, meResponse{UserID: "u-9", Email: "admin@example.com", Role: auth.RoleHospitalAdmin, HospitalID: 3}, me)

	fresh, err := signer.Sign(auth.NewClaims("u-9", auth.RolePatient, "", 0, time.Hour))
	require.NoError(t, err)
	kid, err := auth.KeyID(fresh)
	require.NoError(t, err)
	assert.Equal(t, "new", kid)

	req = httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	hs := NewAuthHandler(Deps{Signer: NewHS256Signer("x")})
	rr = httptest.NewRecorder()
	hs.JWKS(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
