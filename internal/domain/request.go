package domain

import (
	"errors"
	"fmt"
	"time"
)

// LineOfBusiness identifies the benefit program a request is adjudicated under.
type LineOfBusiness string

const (
	LOBCommercial        LineOfBusiness = "commercial"
	LOBMedicaid          LineOfBusiness = "medicaid"
	LOBMedicareAdvantage LineOfBusiness = "medicare_advantage"
)

// ErrInvalidRequest marks malformed submissions. These are rejected before
// the pipeline starts and never produce an audit record.
var ErrInvalidRequest = errors.New("invalid request")

// PARequest is a single prior authorization submission. Immutable once
// accepted; re-submission gets a new ID and a new audit trail.
type PARequest struct {
	ID           string         `json:"id"`
	MemberID     string         `json:"member_id"`
	ProviderNPI  string         `json:"npi"`
	ProviderName string         `json:"provider_name"`

	// Code order is preserved: the first diagnosis code is the primary.
	DiagnosisCodes []string `json:"icd10_codes"`
	ProcedureCodes []string `json:"cpt_codes"`

	LOB         LineOfBusiness `json:"lob"`
	ServiceDate time.Time      `json:"service_date"`
	State       string         `json:"state,omitempty"` // two-letter jurisdiction

	ClinicalNotes string   `json:"clinical_notes,omitempty"` // opaque narrative
	PolicyRef     string   `json:"policy_ref,omitempty"`     // caller-pinned policy, optional
	Documents     []string `json:"documents,omitempty"`      // submitted document kinds
}

// Validate checks required fields before any stage runs.
func (r *PARequest) Validate() error {
	if r.MemberID == "" {
		return fmt.Errorf("%w: member_id is required", ErrInvalidRequest)
	}
	if r.ProviderNPI == "" {
		return fmt.Errorf("%w: npi is required", ErrInvalidRequest)
	}
	if len(r.DiagnosisCodes) == 0 {
		return fmt.Errorf("%w: at least one ICD-10 code is required", ErrInvalidRequest)
	}
	if len(r.ProcedureCodes) == 0 {
		return fmt.Errorf("%w: at least one CPT code is required", ErrInvalidRequest)
	}
	switch r.LOB {
	case LOBCommercial, LOBMedicaid, LOBMedicareAdvantage:
	default:
		return fmt.Errorf("%w: unknown line of business %q", ErrInvalidRequest, r.LOB)
	}
	if r.ServiceDate.IsZero() {
		return fmt.Errorf("%w: service_date is required", ErrInvalidRequest)
	}
	return nil
}

// PrimaryDiagnosis returns the first diagnosis code on the request.
func (r *PARequest) PrimaryDiagnosis() string {
	if len(r.DiagnosisCodes) == 0 {
		return ""
	}
	return r.DiagnosisCodes[0]
}
