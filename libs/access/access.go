// Package access turns the identity headers set by the gateway into a typed capability.
//
// The gateway strips any client supplied X-User-Id / X-Role headers and re-sets them from a
// verified token, so services trust them. Hospital membership is looked up on every request
// instead of being read from the token, so reassignment takes effect immediately.
package access

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/upachar/libs/apperr"
	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/db"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-Role"
)

// HeaderHospitalID carries the token's hospital claim. Services do not trust it for scoping.
const HeaderHospitalID = "X-Hospital-Id"

type Kind int

const (
	Anonymous Kind = iota
	Patient
	HospitalAdmin
	Superuser
)

func (k Kind) String() string {
	switch k {
	case Patient:
		return "patient"
	case HospitalAdmin:
		return "hospital_admin"
	case Superuser:
		return "superuser"
	default:
		return "anonymous"
	}
}

type Capability struct {
	Kind       Kind
	UserID     string
	HospitalID int64
}

func (c Capability) Authenticated() bool {
	return c.Kind != Anonymous && c.UserID != ""
}

// RequireUser fails for anonymous callers.
func (c Capability) RequireUser() error {
	if !c.Authenticated() {
		return apperr.Unauthorized("authentication required")
	}
	return nil
}

// RequireAdmin admits hospital admins and superusers.
func (c Capability) RequireAdmin() error {
	if err := c.RequireUser(); err != nil {
		return err
	}
	if c.Kind != HospitalAdmin && c.Kind != Superuser {
		return apperr.Forbidden("You are not authorized to perform this action.")
	}
	return nil
}

// CanManage reports whether the caller administers hospitalID.
func (c Capability) CanManage(hospitalID int64) bool {
	switch c.Kind {
	case Superuser:
		return true
	case HospitalAdmin:
		return c.HospitalID != 0 && c.HospitalID == hospitalID
	default:
		return false
	}
}

// HospitalLookup finds the hospital a user administers.
type HospitalLookup interface {
	AdminHospital(ctx context.Context, userID string) (int64, bool, error)
}

type Resolver struct {
	hospitals HospitalLookup
}

func NewResolver(hospitals HospitalLookup) *Resolver {
	return &Resolver{hospitals: hospitals}
}

func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Capability, error) {
	userID := strings.TrimSpace(req.Header.Get(HeaderUserID))
	if userID == "" {
		return Capability{Kind: Anonymous}, nil
	}
	role := strings.ToLower(strings.TrimSpace(req.Header.Get(HeaderRole)))
	switch role {
	case auth.RoleSuperuser:
		return Capability{Kind: Superuser, UserID: userID}, nil
	case auth.RoleHospitalAdmin:
		hospitalID, ok, err := r.hospitals.AdminHospital(ctx, userID)
		if err != nil {
			return Capability{}, apperr.Internal("resolve hospital admin", err)
		}
		if ok {
			return Capability{Kind: HospitalAdmin, UserID: userID, HospitalID: hospitalID}, nil
		}
	}
	return Capability{Kind: Patient, UserID: userID}, nil
}

// SQLLookup reads hospital_admins.
type SQLLookup struct {
	q db.Querier
}

func NewSQLLookup(q db.Querier) *SQLLookup {
	return &SQLLookup{q: q}
}

func (l *SQLLookup) AdminHospital(ctx context.Context, userID string) (int64, bool, error) {
	var hospitalID int64
	err := l.q.QueryRow(ctx, `SELECT hospital_id FROM hospital_admins WHERE user_id = $1`, userID).Scan(&hospitalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return hospitalID, true, nil
}
