package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/lookup"
)

// EligibilityStage verifies the member has active coverage for the line of
// business as of the service date, and that the provider NPI is well-formed
// and registered. An ineligibility finding is final: nothing at or after
// this stage can override it.
type EligibilityStage struct {
	benefits lookup.EligibilityChecker
	logger   *zap.Logger
}

func NewEligibilityStage(benefits lookup.EligibilityChecker, logger *zap.Logger) *EligibilityStage {
	return &EligibilityStage{benefits: benefits, logger: logger.Named("eligibility")}
}

func (s *EligibilityStage) Stage() domain.Stage { return domain.StageEligibility }

func (s *EligibilityStage) Evaluate(ctx context.Context, req *domain.PARequest) domain.StageVerdict {
	// Well-formedness is local: a malformed NPI never reaches the registry.
	if !validNPI(req.ProviderNPI) {
		return domain.StageVerdict{
			Stage:   domain.StageEligibility,
			Outcome: domain.OutcomeIneligible,
			Reason:  fmt.Sprintf("Provider NPI %s is not a well-formed NPI (10 digits, valid check digit).", req.ProviderNPI),
		}
	}

	res, err := s.benefits.CheckEligibility(ctx, lookup.EligibilityQuery{
		MemberID:    req.MemberID,
		ProviderNPI: req.ProviderNPI,
		LOB:         req.LOB,
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		s.logger.Error("benefits check unavailable", zap.String("member_id", req.MemberID), zap.Error(err))
		return domain.StageVerdict{
			Stage:   domain.StageEligibility,
			Outcome: domain.OutcomeIndeterminate,
			Reason:  fmt.Sprintf("benefits verification unavailable: %v", err),
		}
	}

	if !res.ProviderValid {
		reason := res.Reason
		if reason == "" {
			reason = fmt.Sprintf("Provider NPI %s could not be validated or is not registered.", req.ProviderNPI)
		}
		return domain.StageVerdict{
			Stage:   domain.StageEligibility,
			Outcome: domain.OutcomeIneligible,
			Reason:  reason,
		}
	}

	if !res.MemberEligible {
		reason := res.Reason
		if reason == "" {
			reason = "Member is not eligible for the requested service under the current benefit plan."
		}
		return domain.StageVerdict{
			Stage:   domain.StageEligibility,
			Outcome: domain.OutcomeIneligible,
			Reason:  reason,
		}
	}

	return domain.StageVerdict{
		Stage:   domain.StageEligibility,
		Outcome: domain.OutcomeEligible,
		Reason:  "Member coverage active and provider registered for the service date.",
	}
}

// validNPI checks the 10-digit format and the Luhn check digit with the
// standard 80840 prefix (which contributes a constant 24 to the sum).
func validNPI(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	sum := 24
	double := true // digits are doubled starting with the 9th (rightmost before check)
	for i := 8; i >= 0; i-- {
		d := int(npi[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	check := int(npi[9] - '0')
	if check < 0 || check > 9 {
		return false
	}
	return (sum+check)%10 == 0
}
