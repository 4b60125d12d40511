package lookup

import (
	"context"
	"time"

	"github.com/xela07ax/priorauth/internal/domain"
)

// Capability interfaces consumed by the pipeline. Each one is narrow so the
// controller's logic is testable with deterministic fakes, independent of
// whatever store or service backs it in a given deployment.

// ExclusionRecord is an active entry on the federal exclusion list (LEIE).
type ExclusionRecord struct {
	RecordID      string    `json:"record_id"`
	NPI           string    `json:"npi"`
	ExclusionType string    `json:"exclusion_type"` // e.g. "1128a1"
	ExclusionDate time.Time `json:"exclusion_date"`
	WaiverState   string    `json:"waiver_state,omitempty"`
}

// ExclusionLookup screens a provider against the exclusion list.
// A nil record with a nil error means the provider is clear.
type ExclusionLookup interface {
	Check(ctx context.Context, npi, name string) (*ExclusionRecord, error)
}

// RelationKind tags the relationship between a code pair.
type RelationKind string

const (
	RelationBundle    RelationKind = "BUNDLE"    // CCI: code is a component of related code
	RelationRedundant RelationKind = "REDUNDANT" // diagnosis duplicates the related primary
)

// CodeRelation describes how Code relates to RelatedCode on one service date.
type CodeRelation struct {
	Kind        RelationKind         `json:"kind"`
	Code        string               `json:"code"`
	RelatedCode string               `json:"related_code"`
	Directive   domain.FindingAction `json:"directive"`
	Description string               `json:"description"`
}

// CodeRelationLookup resolves bundling/redundancy edits for a code pair.
// A nil relation with a nil error means the pair is unrelated.
type CodeRelationLookup interface {
	Relation(ctx context.Context, code, relatedCode string) (*CodeRelation, error)
}

// DiagnosisInfo is the fiscal-year-gated validity record for one ICD-10 code.
type DiagnosisInfo struct {
	Code        string `json:"code"`
	FiscalYear  int    `json:"fiscal_year"`
	Valid       bool   `json:"valid"`
	Billable    bool   `json:"billable"`
	Description string `json:"description,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"` // more specific alternative, if any
}

// DiagnosisValidator validates a diagnosis code against the CMS fiscal-year
// table selected by the service date.
type DiagnosisValidator interface {
	ValidateDiagnosis(ctx context.Context, code string, serviceDate time.Time) (*DiagnosisInfo, error)
}

// EligibilityQuery is the input to the benefits/NPI collaborator.
type EligibilityQuery struct {
	MemberID    string                `json:"member_id"`
	ProviderNPI string                `json:"npi"`
	LOB         domain.LineOfBusiness `json:"lob"`
	ServiceDate time.Time             `json:"service_date"`
}

// EligibilityResult is the structured answer of the benefits collaborator.
type EligibilityResult struct {
	MemberEligible bool   `json:"member_eligible"`
	ProviderValid  bool   `json:"provider_valid"`
	InNetwork      bool   `json:"provider_in_network"`
	Reason         string `json:"reason,omitempty"`
}

type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, q EligibilityQuery) (*EligibilityResult, error)
}

// PolicyQuery is the input to the policy-criteria evaluator collaborator.
type PolicyQuery struct {
	DiagnosisCodes []string              `json:"icd10_codes"`
	ProcedureCodes []string              `json:"cpt_codes"`
	Narrative      string                `json:"clinical_notes"`
	LOB            domain.LineOfBusiness `json:"lob"`
	PolicyRef      string                `json:"policy_ref,omitempty"`
}

// CriterionResult is one evaluated policy criterion.
type CriterionResult struct {
	Name      string `json:"name"`
	Met       bool   `json:"met"`
	Evidence  string `json:"evidence,omitempty"`
	PolicyRef string `json:"policy_ref,omitempty"`
}

// PolicyEvaluation is the tentative outcome of documented-criteria review.
type PolicyEvaluation struct {
	Verdict     domain.StageOutcome `json:"determination"` // APPROVE, DENY or PEND
	PolicyRefs  []string            `json:"policy_refs"`
	MissingDocs []string            `json:"doc_requirements,omitempty"`
	Criteria    []CriterionResult   `json:"criteria,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

type PolicyEvaluator interface {
	EvaluatePolicy(ctx context.Context, q PolicyQuery) (*PolicyEvaluation, error)
}

// RegulatoryQuery is the input to the mandate lookup.
type RegulatoryQuery struct {
	ProcedureCodes []string              `json:"cpt_codes"`
	DiagnosisCodes []string              `json:"icd10_codes"`
	Jurisdiction   string                `json:"state"` // two-letter state, empty = federal only
	ServiceDate    time.Time             `json:"service_date"`
	LOB            domain.LineOfBusiness `json:"lob"`
	LookbackDays   int                   `json:"lookback_days"`
}

// RegulatoryMandate is a federal or state rule affecting coverage.
type RegulatoryMandate struct {
	MandateRef       string    `json:"mandate_ref"`
	Title            string    `json:"title"`
	EffectiveDate    time.Time `json:"effective_date"`
	Jurisdiction     string    `json:"jurisdiction"` // "Federal" or state code
	Summary          string    `json:"summary"`
	MandatesCoverage bool      `json:"mandates_coverage"`
}

// RegulatoryLookup returns mandates effective as of the service date for the
// code/jurisdiction/LOB combination, most recent first.
type RegulatoryLookup interface {
	Mandates(ctx context.Context, q RegulatoryQuery) ([]RegulatoryMandate, error)
}
