package main

import (
	"testing"
	"time"
)

func TestParseLeads(t *testing.T) {
	leads, err := parseLeads([]string{"24h", "1h", "0s"})
	if err != nil {
		t.Fatalf("parseLeads: %v", err)
	}
	if len(leads) != 2 || leads[0] != 24*time.Hour || leads[1] != time.Hour {
		t.Fatalf("unexpected leads %v", leads)
	}
	if _, err := parseLeads([]string{"tomorrow"}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
