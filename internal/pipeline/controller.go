package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
)

// State is the controller's position in the fixed compliance sequence.
type State string

const (
	StateInit        State = "INIT"
	StateSanctions   State = "SANCTIONS"
	StateCoding      State = "CODING"
	StateEligibility State = "ELIGIBILITY"
	StatePolicy      State = "POLICY"
	StateRegulatory  State = "REGULATORY"
	StateTerminal    State = "TERMINAL"
)

var (
	// ErrCancelled is returned when the submitter cancels before a
	// terminal state. The audit trail gets a cancellation marker; no
	// partial decision is ever returned as if final.
	ErrCancelled = errors.New("request cancelled before terminal decision")

	// ErrInvalidTransition is a logic invariant violation: the state
	// machine saw a (state, outcome) pair outside its table. Fatal for the
	// request; no decision is produced.
	ErrInvalidTransition = errors.New("pipeline: undefined state transition")
)

// StageEvaluator is one compliance checkpoint. Evaluators never fail with
// an error: a collaborator failure after retries surfaces as an
// INDETERMINATE outcome, which the transition table routes to PEND.
type StageEvaluator interface {
	Stage() domain.Stage
	Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict
}

// CancelSignal reports whether a request id was cancelled by its submitter.
type CancelSignal interface {
	IsCancelled(requestID string) bool
}

type nopCancelSignal struct{}

func (nopCancelSignal) IsCancelled(string) bool { return false }

// Controller sequences the five stage evaluators, applies the short-circuit
// and override rules, and assembles the final decision and audit trail.
// One instance serves many concurrent requests; all per-request state lives
// on the stack of Adjudicate.
type Controller struct {
	stages   map[State]StageEvaluator
	recorder *audit.Recorder
	cancels  CancelSignal
	metrics  *Metrics
	logger   *zap.Logger
}

func NewController(
	sanctions, coding, eligibility, policy, regulatory StageEvaluator,
	recorder *audit.Recorder,
	cancels CancelSignal,
	metrics *Metrics,
	logger *zap.Logger,
) *Controller {
	if cancels == nil {
		cancels = nopCancelSignal{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Controller{
		stages: map[State]StageEvaluator{
			StateSanctions:   sanctions,
			StateCoding:      coding,
			StateEligibility: eligibility,
			StatePolicy:      policy,
			StateRegulatory:  regulatory,
		},
		recorder: recorder,
		cancels:  cancels,
		metrics:  metrics,
		logger:   logger.Named("controller"),
	}
}

// transition is the single authoritative table from spec'd compliance
// rules: given the current state and the stage verdict, it yields the next
// state and, when terminal, the decision. Any (state, outcome) pair not
// listed here is an invariant violation.
func transition(state State, v domain.StageVerdict) (State, domain.Decision, error) {
	// A collaborator failure at any stage is blocking and routes to PEND,
	// never a silent approval or denial.
	if v.Outcome == domain.OutcomeIndeterminate {
		return StateTerminal, domain.DecisionPend, nil
	}

	switch state {
	case StateSanctions:
		switch v.Outcome {
		case domain.OutcomeExcluded:
			return StateTerminal, domain.DecisionDeniedHardStop, nil
		case domain.OutcomeClear:
			return StateCoding, "", nil
		}
	case StateCoding:
		switch v.Outcome {
		case domain.OutcomeValid:
			return StateEligibility, "", nil
		case domain.OutcomeHasIssues:
			for _, f := range v.Findings {
				if BlockingFinding(f.Kind) {
					return StateTerminal, domain.DecisionReturned, nil
				}
			}
			// Advisory findings only: carried forward, evaluation continues.
			return StateEligibility, "", nil
		}
	case StateEligibility:
		switch v.Outcome {
		case domain.OutcomeIneligible:
			return StateTerminal, domain.DecisionDeny, nil
		case domain.OutcomeEligible:
			return StatePolicy, "", nil
		}
	case StatePolicy:
		switch v.Outcome {
		case domain.OutcomeApprove:
			return StateTerminal, domain.DecisionApprove, nil
		case domain.OutcomePend:
			return StateTerminal, domain.DecisionPend, nil
		case domain.OutcomeDeny:
			return StateRegulatory, "", nil
		}
	case StateRegulatory:
		switch v.Outcome {
		case domain.OutcomeNoOverride:
			return StateTerminal, domain.DecisionDeny, nil
		case domain.OutcomeOverrideFound:
			return StateTerminal, domain.DecisionPend, nil
		}
	}

	return "", "", fmt.Errorf("%w: state=%s outcome=%s", ErrInvalidTransition, state, v.Outcome)
}

// Adjudicate runs one request through the pipeline to exactly one terminal
// decision. Stage order is fixed and never parallelized: later stages rely
// on earlier stages having already excluded disqualifying conditions.
func (c *Controller) Adjudicate(ctx context.Context, req *domain.PARequest) (*domain.PipelineResult, error) {
	// Malformed requests are rejected before the pipeline starts and leave
	// no audit record.
	if err := req.Validate(); err != nil {
		return nil, err
	}

	trail := audit.NewTrail(req.ID)
	state := StateSanctions
	var decision domain.Decision

	for state != StateTerminal {
		if err := c.checkCancelled(ctx, req, trail); err != nil {
			return nil, err
		}

		eval, ok := c.stages[state]
		if !ok {
			return nil, fmt.Errorf("%w: no evaluator for state %s", ErrInvalidTransition, state)
		}

		start := time.Now()
		verdict := eval.Evaluate(ctx, req)
		c.metrics.StageDuration.WithLabelValues(string(verdict.Stage), string(verdict.Outcome)).
			Observe(time.Since(start).Seconds())
		if verdict.Outcome == domain.OutcomeIndeterminate {
			c.metrics.CollaboratorFailures.WithLabelValues(string(verdict.Stage)).Inc()
		}

		// The verdict is written to the trail before the state moves.
		trail.Append(verdict)

		next, terminalDecision, err := transition(state, verdict)
		if err != nil {
			c.logger.Error("invariant violation",
				zap.String("request_id", req.ID),
				zap.String("state", string(state)),
				zap.String("outcome", string(verdict.Outcome)),
			)
			return nil, err
		}
		state = next
		decision = terminalDecision
	}

	result := c.assembleResult(req, trail, decision)

	// The decision is unverifiable without a durable audit record, so a
	// commit failure means no decision at all.
	if _, err := c.recorder.Commit(ctx, trail, result); err != nil {
		return nil, err
	}

	c.metrics.DecisionsTotal.WithLabelValues(string(result.Decision)).Inc()
	c.logger.Info("request adjudicated",
		zap.String("request_id", req.ID),
		zap.String("decision", string(result.Decision)),
		zap.String("audit_ref", result.AuditRef),
		zap.Int("stages", trail.Len()),
	)
	return result, nil
}

// GetAudit returns the committed audit record for a request id.
func (c *Controller) GetAudit(ctx context.Context, requestID string) (*audit.AuditRecord, error) {
	return c.recorder.Get(ctx, requestID)
}

func (c *Controller) checkCancelled(ctx context.Context, req *domain.PARequest, trail *audit.Trail) error {
	cancelled := c.cancels.IsCancelled(req.ID)
	if !cancelled && ctx.Err() == nil {
		return nil
	}

	// The cancellation marker is committed with a background context: the
	// caller's context is exactly what just died.
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.recorder.CommitCancellation(commitCtx, trail); err != nil {
		return fmt.Errorf("cancellation audit: %w", err)
	}

	c.metrics.CancellationsTotal.Inc()
	c.logger.Info("request cancelled mid-pipeline",
		zap.String("request_id", req.ID),
		zap.Int("stages_completed", trail.Len()),
	)
	if ctxErr := ctx.Err(); ctxErr != nil && !cancelled {
		return fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
	}
	return ErrCancelled
}

// assembleResult aggregates references and requirements from the trail into
// the caller-facing result.
func (c *Controller) assembleResult(req *domain.PARequest, trail *audit.Trail, decision domain.Decision) *domain.PipelineResult {
	result := &domain.PipelineResult{
		RequestID:       req.ID,
		Decision:        decision,
		HardStop:        decision == domain.DecisionDeniedHardStop,
		PolicyRefs:      []string{},
		DocRequirements: []string{},
		AuditRef:        trail.Ref(),
	}

	var policyVerdict, lastVerdict *domain.StageVerdict
	verdicts := trail.Verdicts()
	for i := range verdicts {
		v := &verdicts[i]
		lastVerdict = v
		switch v.Stage {
		case domain.StageCoding:
			result.CodingIssues = append(result.CodingIssues, v.Findings...)
		case domain.StagePolicy:
			policyVerdict = v
			result.PolicyRefs = append(result.PolicyRefs, v.References...)
			result.DocRequirements = append(result.DocRequirements, v.MissingDocs...)
		case domain.StageRegulatory:
			result.RegulatoryRefs = append(result.RegulatoryRefs, v.References...)
		}
	}

	result.Reason = c.buildReason(decision, policyVerdict, lastVerdict, result)
	return result
}

func (c *Controller) buildReason(decision domain.Decision, policyVerdict, lastVerdict *domain.StageVerdict, result *domain.PipelineResult) string {
	if lastVerdict != nil && lastVerdict.Outcome == domain.OutcomeIndeterminate {
		return fmt.Sprintf(
			"The %s check could not be completed after retries; the request has been routed to manual review. %s",
			lastVerdict.Stage, lastVerdict.Reason,
		)
	}

	switch decision {
	case domain.DecisionDeniedHardStop:
		return lastVerdict.Reason
	case domain.DecisionReturned:
		blocking := 0
		for _, f := range result.CodingIssues {
			if BlockingFinding(f.Kind) {
				blocking++
			}
		}
		return fmt.Sprintf(
			"Submission contains %d blocking coding issue(s). Correct and resubmit; "+
				"eligibility and policy review will proceed after clean resubmission.",
			blocking,
		)
	case domain.DecisionApprove:
		return "All prior authorization criteria have been met. Sanctions check cleared. " +
			"Coding validated. Member eligibility confirmed. Clinical documentation supports medical necessity."
	case domain.DecisionDeny:
		// A DENY confirmed by regulatory review keeps the policy stage's
		// denial cause; the regulatory verdict only confirms it stands.
		if lastVerdict.Stage == domain.StageRegulatory && policyVerdict != nil {
			return fmt.Sprintf("%s No regulatory mandate overrides this determination.", policyVerdict.Reason)
		}
		return lastVerdict.Reason
	case domain.DecisionPend:
		if lastVerdict.Outcome == domain.OutcomeOverrideFound {
			refs := "see regulatory references"
			if len(result.RegulatoryRefs) > 0 {
				refs = joinRefs(result.RegulatoryRefs)
			}
			return fmt.Sprintf(
				"Policy determination was DENY, but a regulatory mandate overrides the internal policy. "+
					"Escalated to PEND for manual review and policy update. Regulatory references: %s.",
				refs,
			)
		}
		if policyVerdict != nil {
			return policyVerdict.Reason
		}
		return lastVerdict.Reason
	}
	return ""
}

func joinRefs(refs []string) string {
	out := refs[0]
	for _, r := range refs[1:] {
		out += ", " + r
	}
	return out
}
