package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "appointments_patient_doctor_at_key"})
	if !IsUniqueViolation(unique) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if IsExclusionViolation(unique) {
		t.Fatal("23505 is not an exclusion violation")
	}
	if got := ConstraintName(unique); got != "appointments_patient_doctor_at_key" {
		t.Fatalf("unexpected constraint %q", got)
	}
	if !IsExclusionViolation(&pgconn.PgError{Code: "23P01"}) {
		t.Fatal("expected 23P01 to be an exclusion violation")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("expected 23503 to be a foreign key violation")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be not found")
	}
	if IsUniqueViolation(nil) || IsNotFound(nil) {
		t.Fatal("nil must not classify")
	}
}
