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

// SanctionsStage screens the rendering provider against the federal
// exclusion list. It always runs first: an active exclusion is a legal
// prohibition on payment that nothing downstream can override.
type SanctionsStage struct {
	exclusions lookup.ExclusionLookup
	checks     audit.CheckLogger
	logger     *zap.Logger
}

func NewSanctionsStage(exclusions lookup.ExclusionLookup, checks audit.CheckLogger, logger *zap.Logger) *SanctionsStage {
	return &SanctionsStage{
		exclusions: exclusions,
		checks:     checks,
		logger:     logger.Named("sanctions"),
	}
}

func (s *SanctionsStage) Stage() domain.Stage { return domain.StageSanctions }

func (s *SanctionsStage) Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict {
	start := time.Now()
	rec, err := s.exclusions.Check(ctx, req.ProviderNPI, req.ProviderName)

	event := audit.CheckEvent{
		ID:         uuid.New().String(),
		TraceID:    infra.TraceIDFromContext(ctx),
		RequestID:  req.ID,
		Stage:      string(domain.StageSanctions),
		Authority:  "oig",
		Query:      map[string]interface{}{"npi": req.ProviderNPI, "name": req.ProviderName},
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		event.Outcome = "ERROR"
		event.Error = err.Error()
		s.checks.Log(event)
		s.logger.Error("exclusion screening unavailable", zap.String("npi", req.ProviderNPI), zap.Error(err))
		return domain.StageVerdict{
			Stage:   domain.StageSanctions,
			Outcome: domain.OutcomeIndeterminate,
			Reason:  fmt.Sprintf("exclusion screening unavailable: %v", err),
		}
	}

	if rec != nil {
		event.Outcome = "MATCH"
		s.checks.Log(event)
		s.logger.Warn("provider excluded",
			zap.String("npi", req.ProviderNPI),
			zap.String("exclusion_type", rec.ExclusionType),
		)
		return domain.StageVerdict{
			Stage:   domain.StageSanctions,
			Outcome: domain.OutcomeExcluded,
			Reason: fmt.Sprintf(
				"Provider NPI %s is excluded from federal healthcare programs per OIG LEIE "+
					"(exclusion type: %s, effective: %s). No claims may be submitted or paid for this provider.",
				req.ProviderNPI, rec.ExclusionType, rec.ExclusionDate.Format("2006-01-02"),
			),
			References: []string{rec.RecordID},
		}
	}

	event.Outcome = "CLEAR"
	s.checks.Log(event)
	return domain.StageVerdict{
		Stage:   domain.StageSanctions,
		Outcome: domain.OutcomeClear,
		Reason:  "No active exclusion record found for the rendering provider.",
	}
}
