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

// RegulatoryStage runs only after a tentative policy DENY. It looks for a
// federal or state mandate, effective as of the service date, that expands
// coverage beyond the applied policy criteria. A found mandate never
// auto-approves: a machine-detected conflict between plan policy and law is
// exactly what must route to a human.
type RegulatoryStage struct {
	mandates     lookup.RegulatoryLookup
	checks       audit.CheckLogger
	lookbackDays int
	logger       *zap.Logger
}

func NewRegulatoryStage(mandates lookup.RegulatoryLookup, checks audit.CheckLogger, lookbackDays int, logger *zap.Logger) *RegulatoryStage {
	if lookbackDays <= 0 {
		lookbackDays = 730
	}
	return &RegulatoryStage{
		mandates:     mandates,
		checks:       checks,
		lookbackDays: lookbackDays,
		logger:       logger.Named("regulatory"),
	}
}

func (s *RegulatoryStage) Stage() domain.Stage { return domain.StageRegulatory }

func (s *RegulatoryStage) Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict {
	start := time.Now()
	items, err := s.mandates.Mandates(ctx, lookup.RegulatoryQuery{
		ProcedureCodes: req.ProcedureCodes,
		DiagnosisCodes: req.DiagnosisCodes,
		Jurisdiction:   req.State,
		ServiceDate:    req.ServiceDate,
		LOB:            req.LOB,
		LookbackDays:   s.lookbackDays,
	})

	event := audit.CheckEvent{
		ID:        uuid.New().String(),
		TraceID:   infra.TraceIDFromContext(ctx),
		RequestID: req.ID,
		Stage:     string(domain.StageRegulatory),
		Authority: "regulatory",
		Query: map[string]interface{}{
			"cpt_codes": req.ProcedureCodes,
			"state":     req.State,
			"lob":       string(req.LOB),
		},
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		event.Outcome = "ERROR"
		event.Error = err.Error()
		s.checks.Log(event)
		s.logger.Error("regulatory lookup unavailable", zap.Error(err))
		return domain.StageVerdict{
			Stage:   domain.StageRegulatory,
			Outcome: domain.OutcomeIndeterminate,
			Reason:  fmt.Sprintf("regulatory mandate lookup unavailable: %v", err),
		}
	}

	var refs []string
	overriding := false
	for _, item := range items {
		if item.EffectiveDate.After(req.ServiceDate) {
			continue
		}
		ref := item.Title
		if !item.EffectiveDate.IsZero() {
			ref = fmt.Sprintf("%s (eff. %s)", item.Title, item.EffectiveDate.Format("2006-01-02"))
		}
		refs = append(refs, ref)
		if item.MandatesCoverage {
			overriding = true
		}
	}

	if overriding {
		event.Outcome = "MATCH"
		s.checks.Log(event)
		s.logger.Info("regulatory override found", zap.Strings("refs", refs))
		return domain.StageVerdict{
			Stage:      domain.StageRegulatory,
			Outcome:    domain.OutcomeOverrideFound,
			Reason:     "A regulatory mandate effective on or before the service date conflicts with the policy denial.",
			References: refs,
		}
	}

	event.Outcome = "CLEAR"
	s.checks.Log(event)
	return domain.StageVerdict{
		Stage:      domain.StageRegulatory,
		Outcome:    domain.OutcomeNoOverride,
		Reason:     "No regulatory mandate conflicts with the policy determination.",
		References: refs,
	}
}
