package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", RoleHospitalAdmin, "admin@example.com", 4, time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.HospitalID != 4 || parsed.Role != RoleHospitalAdmin {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	claims := NewClaims("user-1", RolePatient, "", 0, -time.Minute)
	token, err := SignHS256(claims, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	token, err := SignRS256(NewClaims("user-2", RoleSuperuser, "", 0, time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}
	parsed, err := VerifyRS256(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.Subject != "user-2" || parsed.Role != RoleSuperuser {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	kid, err := KeyID(token)
	if err != nil || kid != "kid-1" {
		t.Fatalf("KeyID = %q, %v", kid, err)
	}

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	if _, err := VerifyRS256(token, &other.PublicKey); err == nil {
		t.Fatal("expected verification error with wrong key")
	}
}

func TestVerifierUsesJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{PublicJWK(&key.PublicKey, "k1")}})
	}))
	defer srv.Close()

	v := Verifier{JWKS: NewJWKSClient(srv.URL, time.Minute)}
	token, _ := SignRS256(NewClaims("user-3", RolePatient, "", 0, time.Hour), key, "k1")
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user-3" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	unknown, _ := SignRS256(NewClaims("user-3", RolePatient, "", 0, time.Hour), key, "k2")
	if _, err := v.Verify(unknown); err == nil {
		t.Fatal("expected unknown kid to fail")
	}

	hs, _ := SignHS256(NewClaims("user-3", RolePatient, "", 0, time.Hour), "secret")
	if _, err := v.Verify(hs); err == nil {
		t.Fatal("expected HS256 token to be rejected without a secret")
	}
}

func TestJWKSClientCachesAndThrottles(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	var fetches atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{PublicJWK(&key.PublicKey, "k1")}})
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewJWKSClient(srv.URL, time.Minute)
	c.now = func() time.Time { return now }

	if _, err := c.Get("k1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get("k1"); err != nil || fetches.Load() != 1 {
		t.Fatalf("expected cached key, fetches=%d err=%v", fetches.Load(), err)
	}
	if _, err := c.Get("forged"); err != ErrKeyNotFound || fetches.Load() != 1 {
		t.Fatalf("unknown kid inside the gap should not refetch, fetches=%d err=%v", fetches.Load(), err)
	}

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	if _, err := c.Get("k1"); err != nil {
		t.Fatalf("stale key should survive a failed refresh: %v", err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("expected a refresh attempt, fetches=%d", fetches.Load())
	}
}
