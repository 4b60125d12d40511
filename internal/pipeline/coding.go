package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/infra"
	"github.com/xela07ax/priorauth/internal/lookup"
)

// blockingFindings is the policy table for which finding kinds stop the
// pipeline. Kept as data, not control flow, so revisiting the redundancy
// policy never touches the controller.
var blockingFindings = map[domain.FindingKind]bool{
	domain.FindingCCIBundle:   true,
	domain.FindingInvalidCode: true,
	domain.FindingNonBillable: true,
	domain.FindingRedundantDx: false, // advisory: needs clinical judgment
}

// BlockingFinding reports whether a finding kind halts the pipeline.
func BlockingFinding(kind domain.FindingKind) bool { return blockingFindings[kind] }

// CodingStage validates the submitted code set: fiscal-year-gated ICD-10
// validity, CCI bundling across procedure pairs, and clinically redundant
// diagnosis pairs. Bundling and invalid codes are objectively wrong and are
// returned to the submitter before any substantive review spends effort.
type CodingStage struct {
	diagnoses lookup.DiagnosisValidator
	relations lookup.CodeRelationLookup
	checks    audit.CheckLogger
	logger    *zap.Logger
}

func NewCodingStage(diagnoses lookup.DiagnosisValidator, relations lookup.CodeRelationLookup, checks audit.CheckLogger, logger *zap.Logger) *CodingStage {
	return &CodingStage{
		diagnoses: diagnoses,
		relations: relations,
		checks:    checks,
		logger:    logger.Named("coding"),
	}
}

func (s *CodingStage) Stage() domain.Stage { return domain.StageCoding }

func (s *CodingStage) Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict {
	var findings []domain.CodingFinding

	// 1. ICD-10 validity against the CMS table for the service date's FY.
	for _, code := range req.DiagnosisCodes {
		info, err := s.diagnoses.ValidateDiagnosis(ctx, code, req.ServiceDate)
		s.logCheck(ctx, req, "icd10", map[string]interface{}{
			"code": code, "service_date": req.ServiceDate.Format("2006-01-02"),
		}, err)
		if err != nil {
			return s.indeterminate(fmt.Sprintf("diagnosis validation unavailable: %v", err))
		}

		switch {
		case !info.Valid:
			f := domain.CodingFinding{
				Code:        code,
				Kind:        domain.FindingInvalidCode,
				Action:      domain.ActionReplace,
				Description: fmt.Sprintf("ICD-10 code %s is not valid for FY%d.", code, info.FiscalYear),
			}
			if info.Suggestion != "" {
				f.Description += fmt.Sprintf(" Consider %s.", info.Suggestion)
			}
			findings = append(findings, f)
		case !info.Billable:
			findings = append(findings, domain.CodingFinding{
				Code:        code,
				Kind:        domain.FindingNonBillable,
				Action:      domain.ActionReplace,
				Description: fmt.Sprintf("ICD-10 code %s is a header/category code and is not billable; submit a more specific child code.", code),
			})
		}
	}

	// 2. CCI bundling across every ordered procedure pair.
	for i, component := range req.ProcedureCodes {
		for j, comprehensive := range req.ProcedureCodes {
			if i == j {
				continue
			}
			rel, err := s.relations.Relation(ctx, component, comprehensive)
			s.logCheck(ctx, req, "cci", map[string]interface{}{
				"code": component, "related_code": comprehensive,
			}, err)
			if err != nil {
				return s.indeterminate(fmt.Sprintf("code relationship lookup unavailable: %v", err))
			}
			if rel == nil || rel.Kind != lookup.RelationBundle {
				continue
			}
			findings = append(findings, domain.CodingFinding{
				Code:        component,
				RelatedCode: comprehensive,
				Kind:        domain.FindingCCIBundle,
				Action:      rel.Directive,
				Description: fmt.Sprintf("CPT %s is a CCI component of %s and cannot be billed separately on the same date of service.", component, comprehensive),
			})
		}
	}

	// 3. Redundant secondary diagnoses against the primary.
	primary := req.PrimaryDiagnosis()
	for _, secondary := range req.DiagnosisCodes[1:] {
		rel, err := s.relations.Relation(ctx, secondary, primary)
		s.logCheck(ctx, req, "dx_redundancy", map[string]interface{}{
			"code": secondary, "related_code": primary,
		}, err)
		if err != nil {
			return s.indeterminate(fmt.Sprintf("code relationship lookup unavailable: %v", err))
		}
		if rel == nil || rel.Kind != lookup.RelationRedundant {
			continue
		}
		findings = append(findings, domain.CodingFinding{
			Code:        secondary,
			RelatedCode: primary,
			Kind:        domain.FindingRedundantDx,
			Action:      rel.Directive,
			Description: fmt.Sprintf("ICD-10 %s is clinically redundant when %s is the primary diagnosis.", secondary, primary),
		})
	}

	if len(findings) == 0 {
		return domain.StageVerdict{
			Stage:   domain.StageCoding,
			Outcome: domain.OutcomeValid,
			Reason:  "All submitted codes validated; no bundling or redundancy edits apply.",
		}
	}

	blocking := 0
	for _, f := range findings {
		if BlockingFinding(f.Kind) {
			blocking++
		}
	}

	reason := fmt.Sprintf("%d coding issue(s) found; %d blocking.", len(findings), blocking)
	s.logger.Info("coding issues found",
		zap.Int("total", len(findings)),
		zap.Int("blocking", blocking),
	)

	return domain.StageVerdict{
		Stage:    domain.StageCoding,
		Outcome:  domain.OutcomeHasIssues,
		Reason:   reason,
		Findings: findings,
	}
}

func (s *CodingStage) indeterminate(reason string) domain.StageVerdict {
	s.logger.Error("coding stage indeterminate", zap.String("reason", reason))
	return domain.StageVerdict{
		Stage:   domain.StageCoding,
		Outcome: domain.OutcomeIndeterminate,
		Reason:  reason,
	}
}

func (s *CodingStage) logCheck(ctx context.Context, req *domain.PARequest, authority string, query map[string]interface{}, err error) {
	event := audit.CheckEvent{
		ID:        uuid.New().String(),
		TraceID:   infra.TraceIDFromContext(ctx),
		RequestID: req.ID,
		Stage:     string(domain.StageCoding),
		Authority: authority,
		Query:     query,
		Outcome:   "CLEAR",
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		event.Outcome = "ERROR"
		event.Error = err.Error()
	}
	s.checks.Log(event)
}
