package domain

import (
	"errors"
	"testing"
	"time"
)

func wellFormed() *PARequest {
	return &PARequest{
		ID:             "req-1",
		MemberID:       "M1001",
		ProviderNPI:    "1234567893",
		DiagnosisCodes: []string{"M17.11", "M25.361"},
		ProcedureCodes: []string{"27447"},
		LOB:            LOBCommercial,
		ServiceDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := wellFormed().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PARequest)
	}{
		{"missing member", func(r *PARequest) { r.MemberID = "" }},
		{"missing npi", func(r *PARequest) { r.ProviderNPI = "" }},
		{"no diagnoses", func(r *PARequest) { r.DiagnosisCodes = nil }},
		{"no procedures", func(r *PARequest) { r.ProcedureCodes = []string{} }},
		{"unknown lob", func(r *PARequest) { r.LOB = "ppo" }},
		{"zero service date", func(r *PARequest) { r.ServiceDate = time.Time{} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := wellFormed()
			tc.mutate(req)
			err := req.Validate()
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestPrimaryDiagnosis(t *testing.T) {
	if got := wellFormed().PrimaryDiagnosis(); got != "M17.11" {
		t.Fatalf("primary = %s, want the first listed code", got)
	}
}
