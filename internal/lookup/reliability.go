package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilityOptions tunes the retry/breaker/limiter wrapper for one
// collaborator.
type ReliabilityOptions struct {
	Attempts      uint
	CallTimeout   time.Duration
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RateLimit     rate.Limit
	RateBurst     int
}

func (o *ReliabilityOptions) defaults() {
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.CBMaxRequests == 0 {
		o.CBMaxRequests = 3
	}
	if o.CBInterval == 0 {
		o.CBInterval = 5 * time.Second
	}
	if o.CBTimeout == 0 {
		o.CBTimeout = 30 * time.Second
	}
	if o.RateLimit == 0 {
		o.RateLimit = 100
	}
	if o.RateBurst == 0 {
		o.RateBurst = 20
	}
}

// Reliability wraps collaborator calls with a rate limiter, a circuit
// breaker and bounded retries with backoff. One instance per collaborator.
type Reliability struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    ReliabilityOptions
}

func NewReliability(name string, opts ReliabilityOptions) *Reliability {
	opts.defaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Reliability{
		name:    name,
		cb:      cb,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		opts:    opts,
	}
}

// Do runs op under the limiter, breaker and retry policy. op receives a
// per-attempt context bounded by CallTimeout.
func (r *Reliability) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", r.name, err)
	}

	_, err := r.cb.Execute(func() (interface{}, error) {
		rt := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.opts.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor an explicit Retry-After from the collaborator,
				// otherwise exponential backoff.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, rt.Do(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
			defer cancel()
			return op(attemptCtx)
		})
	})

	if err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	return nil
}

// The decorators below give every capability interface the same reliability
// envelope without the stages knowing about it.

type ReliableExclusionLookup struct {
	next ExclusionLookup
	rel  *Reliability
}

func NewReliableExclusionLookup(next ExclusionLookup, rel *Reliability) *ReliableExclusionLookup {
	return &ReliableExclusionLookup{next: next, rel: rel}
}

func (l *ReliableExclusionLookup) Check(ctx context.Context, npi, name string) (*ExclusionRecord, error) {
	var rec *ExclusionRecord
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		rec, callErr = l.next.Check(ctx, npi, name)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type ReliableCodeRelationLookup struct {
	next CodeRelationLookup
	rel  *Reliability
}

func NewReliableCodeRelationLookup(next CodeRelationLookup, rel *Reliability) *ReliableCodeRelationLookup {
	return &ReliableCodeRelationLookup{next: next, rel: rel}
}

func (l *ReliableCodeRelationLookup) Relation(ctx context.Context, code, relatedCode string) (*CodeRelation, error) {
	var cr *CodeRelation
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		cr, callErr = l.next.Relation(ctx, code, relatedCode)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return cr, nil
}

type ReliableDiagnosisValidator struct {
	next DiagnosisValidator
	rel  *Reliability
}

func NewReliableDiagnosisValidator(next DiagnosisValidator, rel *Reliability) *ReliableDiagnosisValidator {
	return &ReliableDiagnosisValidator{next: next, rel: rel}
}

func (l *ReliableDiagnosisValidator) ValidateDiagnosis(ctx context.Context, code string, serviceDate time.Time) (*DiagnosisInfo, error) {
	var info *DiagnosisInfo
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		info, callErr = l.next.ValidateDiagnosis(ctx, code, serviceDate)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

type ReliableEligibilityChecker struct {
	next EligibilityChecker
	rel  *Reliability
}

func NewReliableEligibilityChecker(next EligibilityChecker, rel *Reliability) *ReliableEligibilityChecker {
	return &ReliableEligibilityChecker{next: next, rel: rel}
}

func (l *ReliableEligibilityChecker) CheckEligibility(ctx context.Context, q EligibilityQuery) (*EligibilityResult, error) {
	var res *EligibilityResult
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = l.next.CheckEligibility(ctx, q)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type ReliablePolicyEvaluator struct {
	next PolicyEvaluator
	rel  *Reliability
}

func NewReliablePolicyEvaluator(next PolicyEvaluator, rel *Reliability) *ReliablePolicyEvaluator {
	return &ReliablePolicyEvaluator{next: next, rel: rel}
}

func (l *ReliablePolicyEvaluator) EvaluatePolicy(ctx context.Context, q PolicyQuery) (*PolicyEvaluation, error) {
	var ev *PolicyEvaluation
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		ev, callErr = l.next.EvaluatePolicy(ctx, q)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

type ReliableRegulatoryLookup struct {
	next RegulatoryLookup
	rel  *Reliability
}

func NewReliableRegulatoryLookup(next RegulatoryLookup, rel *Reliability) *ReliableRegulatoryLookup {
	return &ReliableRegulatoryLookup{next: next, rel: rel}
}

func (l *ReliableRegulatoryLookup) Mandates(ctx context.Context, q RegulatoryQuery) ([]RegulatoryMandate, error) {
	var items []RegulatoryMandate
	err := l.rel.Do(ctx, func(ctx context.Context) error {
		var callErr error
		items, callErr = l.next.Mandates(ctx, q)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
