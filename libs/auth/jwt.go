// Package auth issues and verifies the platform's access tokens.
package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleSuperuser     = "superuser"
	RoleHospitalAdmin = "hospital_admin"
	RolePatient       = "patient"
)

// Claims carries the user id in the registered subject claim.
type Claims struct {
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	HospitalID int64  `json:"hospital_id,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for userID that expire after ttl.
func NewClaims(userID, role, email string, hospitalID int64, ttl time.Duration) Claims {
	now := time.Now().UTC()
	return Claims{
		Role:       role,
		Email:      email,
		HospitalID: hospitalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return Verifier{Secret: secret}.Verify(token)
}

func VerifyRS256(token string, pub *rsa.PublicKey) (*Claims, error) {
	return parse(token, func(t *jwt.Token) (any, error) { return pub, nil }, jwt.SigningMethodRS256.Alg())
}

// KeyID returns the kid header of token without verifying it.
func KeyID(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return "", ErrInvalidToken
	}
	kid, _ := parsed.Header["kid"].(string)
	return kid, nil
}

// Verifier accepts HS256 tokens signed with Secret and RS256 tokens whose kid is served by JWKS.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(token string) (*Claims, error) {
	var algs []string
	if v.Secret != "" {
		algs = append(algs, jwt.SigningMethodHS256.Alg())
	}
	if v.JWKS != nil {
		algs = append(algs, jwt.SigningMethodRS256.Alg())
	}
	if len(algs) == 0 {
		return nil, ErrInvalidToken
	}
	return parse(token, v.keyFunc, algs...)
}

func (v Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(v.Secret), nil
	case *jwt.SigningMethodRSA:
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrInvalidToken
		}
		return v.JWKS.Get(kid)
	default:
		return nil, ErrInvalidToken
	}
}

func parse(token string, keyFunc jwt.Keyfunc, algs ...string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
