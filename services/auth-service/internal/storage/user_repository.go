package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/db"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsActive     bool
	// HospitalID is set for users listed in hospital_admins.
	HospitalID int64
}

// PendingOTP is the verification state of a registered account.
type PendingOTP struct {
	UserID   string
	Name     string
	Active   bool
	OTP      string
	IssuedAt *time.Time
}

type Profile struct {
	Email           string
	Name            string
	IsHospitalAdmin bool
	Phone           string
	Address         string
	Gender          string
	Birthday        *time.Time
	EmailVerified   bool
}

// ProfileUpdate is a partial update; nil fields are left unchanged.
type ProfileUpdate struct {
	Phone       *string
	Address     *string
	Gender      *string
	Birthday    *time.Time
	SetBirthday bool
}

type UserRepository struct {
	pool db.Conn
}

func NewUserRepository(pool db.Conn) *UserRepository {
	return &UserRepository{pool: pool}
}

const userSelect = `
	SELECT u.id::text, u.email, u.name, u.password_hash, u.role, u.is_active, COALESCE(ha.hospital_id, 0)
	FROM users u
	LEFT JOIN hospital_admins ha ON ha.user_id = u.id`

// CreatePendingTx inserts an inactive user and its profile holding the first OTP.
func (r *UserRepository) CreatePendingTx(ctx context.Context, tx pgx.Tx, user User, otp string, issuedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, is_active)
		VALUES ($1, $2, $3, $4, $5, false)
	`, user.ID, user.Email, user.PasswordHash, user.Name, user.Role)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_profiles (user_id, otp, otp_created_at)
		VALUES ($1, $2, $3)
	`, user.ID, otp, issuedAt)
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.email = $1`, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
}

func (r *UserRepository) scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsActive, &u.HospitalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// PendingOTPForUpdate locks the profile row of email for the rest of tx.
func (r *UserRepository) PendingOTPForUpdate(ctx context.Context, tx pgx.Tx, email string) (PendingOTP, error) {
	var p PendingOTP
	err := tx.QueryRow(ctx, `
		SELECT u.id::text, u.name, u.is_active, COALESCE(p.otp, ''), p.otp_created_at
		FROM users u
		JOIN user_profiles p ON p.user_id = u.id
		WHERE u.email = $1
		FOR UPDATE OF p
	`, email).Scan(&p.UserID, &p.Name, &p.Active, &p.OTP, &p.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingOTP{}, ErrNotFound
	}
	if err != nil {
		return PendingOTP{}, err
	}
	return p, nil
}

// ReissueOTPTx replaces the outstanding code of an inactive user.
func (r *UserRepository) ReissueOTPTx(ctx context.Context, tx pgx.Tx, userID, otp string, issuedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE user_profiles
		SET otp = $2, otp_created_at = $3
		WHERE user_id = $1
	`, userID, otp, issuedAt)
	return err
}

// ActivateTx marks the account active and its email verified, consuming the OTP.
func (r *UserRepository) ActivateTx(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `UPDATE users SET is_active = true WHERE id = $1`, userID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE user_profiles
		SET email_verified = true, otp = NULL, otp_created_at = NULL
		WHERE user_id = $1
	`, userID)
	return err
}

func (r *UserRepository) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT u.email, u.name,
		       EXISTS (SELECT 1 FROM hospital_admins ha WHERE ha.user_id = u.id),
		       COALESCE(p.phone, ''), COALESCE(p.address, ''), COALESCE(p.gender, ''),
		       p.birthday, COALESCE(p.email_verified, false)
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&p.Email, &p.Name, &p.IsHospitalAdmin, &p.Phone, &p.Address, &p.Gender, &p.Birthday, &p.EmailVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// UpdateProfile applies u, creating the profile row when the user has none.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, phone, address, gender, birthday)
		VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''), $5::date)
		ON CONFLICT (user_id) DO UPDATE SET
			phone = COALESCE($2::text, user_profiles.phone),
			address = COALESCE($3::text, user_profiles.address),
			gender = COALESCE($4::text, user_profiles.gender),
			birthday = CASE WHEN $6::boolean THEN $5::date ELSE user_profiles.birthday END
	`, userID, u.Phone, u.Address, u.Gender, u.Birthday, u.SetBirthday)
	if db.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}
