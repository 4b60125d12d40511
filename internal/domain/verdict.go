package domain

import "time"

// Stage names the five compliance checkpoints in evaluation order.
type Stage string

const (
	StageSanctions   Stage = "SANCTIONS"
	StageCoding      Stage = "CODING"
	StageEligibility Stage = "ELIGIBILITY"
	StagePolicy      Stage = "POLICY"
	StageRegulatory  Stage = "REGULATORY"
)

// StageOrder is the fixed compliance order. The audit trail must always be
// a prefix of this sequence.
var StageOrder = []Stage{
	StageSanctions,
	StageCoding,
	StageEligibility,
	StagePolicy,
	StageRegulatory,
}

// StageOutcome is the per-stage verdict tag.
type StageOutcome string

const (
	// Sanctions
	OutcomeClear    StageOutcome = "CLEAR"
	OutcomeExcluded StageOutcome = "EXCLUDED"

	// Coding
	OutcomeValid     StageOutcome = "VALID"
	OutcomeHasIssues StageOutcome = "HAS_ISSUES"

	// Eligibility
	OutcomeEligible   StageOutcome = "ELIGIBLE"
	OutcomeIneligible StageOutcome = "INELIGIBLE"

	// Policy (tentative: only DENY proceeds to regulatory review)
	OutcomeApprove StageOutcome = "APPROVE"
	OutcomeDeny    StageOutcome = "DENY"
	OutcomePend    StageOutcome = "PEND"

	// Regulatory
	OutcomeNoOverride    StageOutcome = "NO_OVERRIDE"
	OutcomeOverrideFound StageOutcome = "OVERRIDE_FOUND"

	// Any stage whose collaborator failed after retries. Blocking: routes
	// the request to PEND, never to a silent approval or denial.
	OutcomeIndeterminate StageOutcome = "INDETERMINATE"
)

// FindingKind classifies a coding issue.
type FindingKind string

const (
	FindingCCIBundle   FindingKind = "CCI_BUNDLE"
	FindingRedundantDx FindingKind = "REDUNDANT_DX"
	FindingInvalidCode FindingKind = "INVALID"
	FindingNonBillable FindingKind = "NON_BILLABLE"
)

// FindingAction is the recommended remediation for a coding finding.
type FindingAction string

const (
	ActionRemove  FindingAction = "REMOVE"
	ActionReplace FindingAction = "REPLACE"
	ActionReview  FindingAction = "REVIEW"
)

// CodingFinding is one structured issue raised by the coding stage.
// RelatedCode is the code the finding is relative to: the code a component
// is bundled into, or the primary diagnosis a secondary duplicates.
type CodingFinding struct {
	Code        string        `json:"code"`
	RelatedCode string        `json:"related_code,omitempty"`
	Kind        FindingKind   `json:"kind"`
	Action      FindingAction `json:"action"`
	Description string        `json:"description"`
}

// StageVerdict is the write-once record of one checkpoint. Verdicts are
// appended to the audit trail in evaluation order and never mutated.
type StageVerdict struct {
	Stage       Stage           `json:"stage"`
	Outcome     StageOutcome    `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	References  []string        `json:"references,omitempty"`
	Findings    []CodingFinding `json:"findings,omitempty"`
	MissingDocs []string        `json:"missing_docs,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}
