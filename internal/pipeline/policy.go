package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/lookup"
)

// defaultDocRequirement keeps a PEND honest: a pend without a named gap
// gives the submitter nothing to act on.
const defaultDocRequirement = "Additional clinical documentation supporting medical necessity"

// PolicyStage delegates documented-criteria review to the policy evaluator
// collaborator and maps its verdict. Only a DENY here is tentative; APPROVE
// and PEND finalize immediately.
type PolicyStage struct {
	evaluator lookup.PolicyEvaluator
	logger    *zap.Logger
}

func NewPolicyStage(evaluator lookup.PolicyEvaluator, logger *zap.Logger) *PolicyStage {
	return &PolicyStage{evaluator: evaluator, logger: logger.Named("policy")}
}

func (s *PolicyStage) Stage() domain.Stage { return domain.StagePolicy }

func (s *PolicyStage) Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict {
	ev, err := s.evaluator.EvaluatePolicy(ctx, lookup.PolicyQuery{
		DiagnosisCodes: req.DiagnosisCodes,
		ProcedureCodes: req.ProcedureCodes,
		Narrative:      req.ClinicalNotes,
		LOB:            req.LOB,
		PolicyRef:      req.PolicyRef,
	})
	if err != nil {
		s.logger.Error("policy evaluation unavailable", zap.Error(err))
		return domain.StageVerdict{
			Stage:   domain.StagePolicy,
			Outcome: domain.OutcomeIndeterminate,
			Reason:  fmt.Sprintf("policy evaluation unavailable: %v", err),
		}
	}

	verdict := domain.StageVerdict{
		Stage:      domain.StagePolicy,
		Reason:     ev.Reason,
		References: ev.PolicyRefs,
	}

	switch ev.Verdict {
	case domain.OutcomeApprove:
		verdict.Outcome = domain.OutcomeApprove
		if verdict.Reason == "" {
			verdict.Reason = "All policy criteria met; documentation supports medical necessity."
		}
	case domain.OutcomePend:
		verdict.Outcome = domain.OutcomePend
		verdict.MissingDocs = ev.MissingDocs
		if len(verdict.MissingDocs) == 0 {
			verdict.MissingDocs = []string{defaultDocRequirement}
		}
		if verdict.Reason == "" {
			verdict.Reason = "Service meets some policy criteria but additional documentation is required. See doc_requirements for items needed from the submitting provider."
		}
	case domain.OutcomeDeny:
		verdict.Outcome = domain.OutcomeDeny
		if verdict.Reason == "" {
			verdict.Reason = failedCriteriaReason(ev.Criteria)
		}
	default:
		// The client validates determinations, so this is a contract break.
		s.logger.Error("unknown policy determination", zap.String("determination", string(ev.Verdict)))
		verdict.Outcome = domain.OutcomeIndeterminate
		verdict.Reason = fmt.Sprintf("policy evaluator returned unknown determination %q", ev.Verdict)
	}

	return verdict
}

func failedCriteriaReason(criteria []lookup.CriterionResult) string {
	for _, c := range criteria {
		if !c.Met {
			return fmt.Sprintf("Policy criterion not met: %s.", c.Name)
		}
	}
	return "One or more policy criteria were not met. See criteria details."
}
