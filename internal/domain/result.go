package domain

// Decision is one of the five terminal outcomes of the pipeline.
type Decision string

const (
	DecisionApprove        Decision = "APPROVE"
	DecisionDeny           Decision = "DENY"
	DecisionPend           Decision = "PEND"
	DecisionDeniedHardStop Decision = "DENIED_HARD_STOP"
	DecisionReturned       Decision = "RETURNED_FOR_CORRECTION"
)

// PipelineResult is produced exactly once per request, after the controller
// reaches a terminal state and the audit record is durably committed.
type PipelineResult struct {
	RequestID       string          `json:"request_id"`
	Decision        Decision        `json:"decision"`
	HardStop        bool            `json:"hard_stop"`
	PolicyRefs      []string        `json:"policy_refs"`
	RegulatoryRefs  []string        `json:"regulatory_refs,omitempty"`
	DocRequirements []string        `json:"doc_requirements"`
	CodingIssues    []CodingFinding `json:"coding_issues,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	AuditRef        string          `json:"audit_ref"`
}
