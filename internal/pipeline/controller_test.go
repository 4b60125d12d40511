package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/lookup"
)

// --- fakes -----------------------------------------------------------------

type fakeExclusions struct {
	records map[string]*lookup.ExclusionRecord
	err     error
}

func (f *fakeExclusions) Check(_ context.Context, npi, _ string) (*lookup.ExclusionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[npi], nil
}

type fakeRelations struct {
	relations map[string]*lookup.CodeRelation // key: "code|related"
	err       error
}

func (f *fakeRelations) Relation(_ context.Context, code, relatedCode string) (*lookup.CodeRelation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.relations[code+"|"+relatedCode], nil
}

type fakeDiagnoses struct {
	invalid map[string]bool
	err     error
}

func (f *fakeDiagnoses) ValidateDiagnosis(_ context.Context, code string, serviceDate time.Time) (*lookup.DiagnosisInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	fy := serviceDate.Year()
	if serviceDate.Month() >= time.October {
		fy++
	}
	info := &lookup.DiagnosisInfo{Code: code, FiscalYear: fy, Valid: true, Billable: true}
	if f.invalid[code] {
		info.Valid = false
	}
	return info, nil
}

type fakeBenefits struct {
	result *lookup.EligibilityResult
	err    error
}

func (f *fakeBenefits) CheckEligibility(_ context.Context, _ lookup.EligibilityQuery) (*lookup.EligibilityResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakePolicy struct {
	eval  *lookup.PolicyEvaluation
	err   error
	calls int
}

func (f *fakePolicy) EvaluatePolicy(_ context.Context, _ lookup.PolicyQuery) (*lookup.PolicyEvaluation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.eval, nil
}

type fakeRegulatory struct {
	mandates []lookup.RegulatoryMandate
	err      error
	calls    int
}

func (f *fakeRegulatory) Mandates(_ context.Context, _ lookup.RegulatoryQuery) ([]lookup.RegulatoryMandate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.mandates, nil
}

type fakeCancels struct{ cancelled map[string]bool }

func (f *fakeCancels) IsCancelled(id string) bool { return f.cancelled[id] }

type failingStore struct{ err error }

func (s *failingStore) Save(context.Context, *audit.AuditRecord) error { return s.err }
func (s *failingStore) Get(context.Context, string) (*audit.AuditRecord, error) {
	return nil, audit.ErrRecordNotFound
}

// --- harness ---------------------------------------------------------------

type harness struct {
	exclusions *fakeExclusions
	relations  *fakeRelations
	diagnoses  *fakeDiagnoses
	benefits   *fakeBenefits
	policy     *fakePolicy
	regulatory *fakeRegulatory
	store      audit.RecordStore
	cancels    CancelSignal
}

// newHarness wires a controller whose collaborators all answer favourably,
// so each test flips only the condition it is about.
func newHarness() *harness {
	return &harness{
		exclusions: &fakeExclusions{records: map[string]*lookup.ExclusionRecord{}},
		relations:  &fakeRelations{relations: map[string]*lookup.CodeRelation{}},
		diagnoses:  &fakeDiagnoses{invalid: map[string]bool{}},
		benefits:   &fakeBenefits{result: &lookup.EligibilityResult{MemberEligible: true, ProviderValid: true, InNetwork: true}},
		policy:     &fakePolicy{eval: &lookup.PolicyEvaluation{Verdict: domain.OutcomeApprove, PolicyRefs: []string{"MCG-A-0421"}}},
		regulatory: &fakeRegulatory{},
		store:      audit.NewMemoryStore(),
	}
}

func (h *harness) controller() *Controller {
	logger := zap.NewNop()
	checks := audit.NopCheckLogger{}
	return NewController(
		NewSanctionsStage(h.exclusions, checks, logger),
		NewCodingStage(h.diagnoses, h.relations, checks, logger),
		NewEligibilityStage(h.benefits, logger),
		NewPolicyStage(h.policy, logger),
		NewRegulatoryStage(h.regulatory, checks, 730, logger),
		audit.NewRecorder(h.store, logger),
		h.cancels,
		nil,
		logger,
	)
}

func validRequest() *domain.PARequest {
	return &domain.PARequest{
		ID:             "req-1",
		MemberID:       "M1001",
		ProviderNPI:    "1234567893",
		ProviderName:   "Dr. Santos",
		DiagnosisCodes: []string{"M17.11"},
		ProcedureCodes: []string{"27447"},
		LOB:            domain.LOBCommercial,
		ServiceDate:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		State:          "CA",
		ClinicalNotes:  "Failed conservative therapy, severe osteoarthritis.",
	}
}

func mustStages(t *testing.T, rec *audit.AuditRecord, want ...domain.Stage) {
	t.Helper()
	if len(rec.Verdicts) != len(want) {
		t.Fatalf("trail has %d verdicts, want %d", len(rec.Verdicts), len(want))
	}
	for i, stage := range want {
		if rec.Verdicts[i].Stage != stage {
			t.Fatalf("verdict %d is %s, want %s", i, rec.Verdicts[i].Stage, stage)
		}
	}
	// Prefix of the fixed order, never reordered.
	for i := range rec.Verdicts {
		if rec.Verdicts[i].Stage != domain.StageOrder[i] {
			t.Fatalf("verdict %d breaks stage order: %s", i, rec.Verdicts[i].Stage)
		}
	}
}

// --- scenarios -------------------------------------------------------------

func TestAdjudicateCleanApproval(t *testing.T) {
	h := newHarness()
	c := h.controller()

	result, err := c.Adjudicate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE", result.Decision)
	}
	if result.HardStop {
		t.Fatal("hard_stop set on a clean approval")
	}
	if len(result.DocRequirements) != 0 {
		t.Fatalf("doc_requirements = %v, want empty", result.DocRequirements)
	}
	if result.AuditRef == "" || !strings.HasPrefix(result.AuditRef, "PA-") {
		t.Fatalf("audit_ref = %q", result.AuditRef)
	}
	if h.regulatory.calls != 0 {
		t.Fatal("regulatory ran without a policy DENY")
	}

	rec, err := c.GetAudit(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	mustStages(t, rec, domain.StageSanctions, domain.StageCoding, domain.StageEligibility, domain.StagePolicy)
}

func TestAdjudicateMissingDocsPend(t *testing.T) {
	h := newHarness()
	wantDocs := []string{
		"Conservative therapy records (minimum 6 months)",
		"Psychological evaluation",
		"Trial stimulation results",
	}
	h.policy.eval = &lookup.PolicyEvaluation{
		Verdict:     domain.OutcomePend,
		PolicyRefs:  []string{"CMS-NCD-160.7"},
		MissingDocs: wantDocs,
	}
	c := h.controller()

	req := validRequest()
	req.ProcedureCodes = []string{"63685"}
	req.DiagnosisCodes = []string{"M54.16"}

	result, err := c.Adjudicate(context.Background(), req)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionPend {
		t.Fatalf("decision = %s, want PEND", result.Decision)
	}
	if len(result.DocRequirements) != 3 {
		t.Fatalf("doc_requirements = %v, want 3 items", result.DocRequirements)
	}
	for i, doc := range wantDocs {
		if result.DocRequirements[i] != doc {
			t.Fatalf("doc_requirements[%d] = %q, want %q", i, result.DocRequirements[i], doc)
		}
	}
	if h.regulatory.calls != 0 {
		t.Fatal("regulatory ran after a policy PEND")
	}
}

func TestAdjudicateExcludedProviderHardStop(t *testing.T) {
	h := newHarness()
	h.exclusions.records["1234567893"] = &lookup.ExclusionRecord{
		RecordID:      "LEIE-88341",
		NPI:           "1234567893",
		ExclusionType: "1128a1",
		ExclusionDate: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	c := h.controller()

	result, err := c.Adjudicate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionDeniedHardStop {
		t.Fatalf("decision = %s, want DENIED_HARD_STOP", result.Decision)
	}
	if !result.HardStop {
		t.Fatal("hard_stop flag not set")
	}
	if !strings.Contains(result.Reason, "1128a1") {
		t.Fatalf("reason does not cite the exclusion type: %q", result.Reason)
	}

	rec, err := c.GetAudit(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	mustStages(t, rec, domain.StageSanctions)
}

func TestAdjudicateRegulatoryOverridePends(t *testing.T) {
	h := newHarness()
	h.policy.eval = &lookup.PolicyEvaluation{
		Verdict:    domain.OutcomeDeny,
		PolicyRefs: []string{"PLAN-CGM-2023.1"},
		Reason:     "Member does not meet the insulin-use criterion for CGM coverage.",
	}
	h.regulatory.mandates = []lookup.RegulatoryMandate{{
		MandateRef:       "CMS-NCD-280.1",
		Title:            "CMS NCD 280.1 CGM Coverage Amendment",
		EffectiveDate:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Jurisdiction:     "Federal",
		MandatesCoverage: true,
	}}
	c := h.controller()

	req := validRequest()
	req.LOB = domain.LOBMedicareAdvantage
	req.ProcedureCodes = []string{"95250"}
	req.DiagnosisCodes = []string{"E11.9"}

	result, err := c.Adjudicate(context.Background(), req)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionPend {
		t.Fatalf("decision = %s, want PEND", result.Decision)
	}
	if len(result.RegulatoryRefs) == 0 {
		t.Fatal("regulatory_refs empty after an override")
	}
	if !strings.Contains(result.Reason, "overrides the internal policy") {
		t.Fatalf("reason does not cite the override: %q", result.Reason)
	}
	if h.regulatory.calls != 1 {
		t.Fatalf("regulatory ran %d times, want 1", h.regulatory.calls)
	}
}

func TestAdjudicateCCIBundleReturned(t *testing.T) {
	h := newHarness()
	h.relations.relations["27370|27447"] = &lookup.CodeRelation{
		Kind:        lookup.RelationBundle,
		Code:        "27370",
		RelatedCode: "27447",
		Directive:   domain.ActionRemove,
	}
	h.relations.relations["M25.361|M17.11"] = &lookup.CodeRelation{
		Kind:        lookup.RelationRedundant,
		Code:        "M25.361",
		RelatedCode: "M17.11",
		Directive:   domain.ActionReview,
	}
	c := h.controller()

	req := validRequest()
	req.ProcedureCodes = []string{"27447", "27370"}
	req.DiagnosisCodes = []string{"M17.11", "M25.361"}

	result, err := c.Adjudicate(context.Background(), req)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionReturned {
		t.Fatalf("decision = %s, want RETURNED_FOR_CORRECTION", result.Decision)
	}

	var bundle, redundant *domain.CodingFinding
	for i := range result.CodingIssues {
		switch result.CodingIssues[i].Kind {
		case domain.FindingCCIBundle:
			bundle = &result.CodingIssues[i]
		case domain.FindingRedundantDx:
			redundant = &result.CodingIssues[i]
		}
	}
	if bundle == nil {
		t.Fatal("no CCI_BUNDLE finding in coding_issues")
	}
	if bundle.Action != domain.ActionRemove {
		t.Fatalf("bundle action = %s, want REMOVE", bundle.Action)
	}
	if redundant == nil {
		t.Fatal("redundant diagnosis finding not reported alongside the bundle")
	}

	rec, err := c.GetAudit(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	mustStages(t, rec, domain.StageSanctions, domain.StageCoding)
}

func TestAdjudicateRedundantDxAloneDoesNotBlock(t *testing.T) {
	h := newHarness()
	h.relations.relations["M25.361|M17.11"] = &lookup.CodeRelation{
		Kind:        lookup.RelationRedundant,
		Code:        "M25.361",
		RelatedCode: "M17.11",
		Directive:   domain.ActionReview,
	}
	c := h.controller()

	req := validRequest()
	req.DiagnosisCodes = []string{"M17.11", "M25.361"}

	result, err := c.Adjudicate(context.Background(), req)
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE despite advisory finding", result.Decision)
	}
	if len(result.CodingIssues) != 1 || result.CodingIssues[0].Kind != domain.FindingRedundantDx {
		t.Fatalf("coding_issues = %+v, want the advisory finding carried forward", result.CodingIssues)
	}
}

func TestAdjudicateRegulatoryConfirmedDeny(t *testing.T) {
	h := newHarness()
	h.policy.eval = &lookup.PolicyEvaluation{
		Verdict: domain.OutcomeDeny,
		Reason:  "Policy criterion not met: documented failure of conservative therapy.",
	}
	c := h.controller()

	result, err := c.Adjudicate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionDeny {
		t.Fatalf("decision = %s, want DENY", result.Decision)
	}
	if h.regulatory.calls != 1 {
		t.Fatalf("regulatory ran %d times, want exactly 1 after a policy DENY", h.regulatory.calls)
	}
	if !strings.Contains(result.Reason, "conservative therapy") {
		t.Fatalf("reason lost the policy denial cause: %q", result.Reason)
	}
	if !strings.Contains(result.Reason, "No regulatory mandate overrides") {
		t.Fatalf("reason does not confirm the regulatory check: %q", result.Reason)
	}
}

// --- error taxonomy --------------------------------------------------------

func TestAdjudicateInvalidRequestLeavesNoAudit(t *testing.T) {
	h := newHarness()
	c := h.controller()

	req := validRequest()
	req.DiagnosisCodes = nil

	_, err := c.Adjudicate(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}

	if _, err := c.GetAudit(context.Background(), req.ID); !errors.Is(err, audit.ErrRecordNotFound) {
		t.Fatalf("audit record exists for a rejected request: %v", err)
	}
}

func TestAdjudicateCollaboratorFailurePends(t *testing.T) {
	h := newHarness()
	h.benefits.err = fmt.Errorf("benefits service: connection refused")
	c := h.controller()

	result, err := c.Adjudicate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	if result.Decision != domain.DecisionPend {
		t.Fatalf("decision = %s, want PEND on collaborator failure", result.Decision)
	}
	if !strings.Contains(result.Reason, string(domain.StageEligibility)) {
		t.Fatalf("reason does not name the failed stage: %q", result.Reason)
	}

	rec, err := c.GetAudit(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	last := rec.Verdicts[len(rec.Verdicts)-1]
	if last.Outcome != domain.OutcomeIndeterminate {
		t.Fatalf("last outcome = %s, want INDETERMINATE", last.Outcome)
	}
}

func TestAdjudicateAuditFailureReturnsNoDecision(t *testing.T) {
	h := newHarness()
	h.store = &failingStore{err: fmt.Errorf("disk full")}
	c := h.controller()

	result, err := c.Adjudicate(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected an error when the audit commit fails")
	}
	if result != nil {
		t.Fatalf("got a decision %s without a durable audit record", result.Decision)
	}
}

func TestAdjudicateCancellation(t *testing.T) {
	h := newHarness()
	h.cancels = &fakeCancels{cancelled: map[string]bool{"req-1": true}}
	c := h.controller()

	_, err := c.Adjudicate(context.Background(), validRequest())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	rec, err := c.GetAudit(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	if !rec.Cancelled {
		t.Fatal("audit record missing the cancellation marker")
	}
	if rec.Result != nil {
		t.Fatal("cancelled request carries a terminal result")
	}
}

func TestAdjudicateContextCancellation(t *testing.T) {
	h := newHarness()
	c := h.controller()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Adjudicate(ctx, validRequest())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

// --- transition table ------------------------------------------------------

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		state    State
		outcome  domain.StageOutcome
		next     State
		decision domain.Decision
	}{
		{StateSanctions, domain.OutcomeClear, StateCoding, ""},
		{StateSanctions, domain.OutcomeExcluded, StateTerminal, domain.DecisionDeniedHardStop},
		{StateCoding, domain.OutcomeValid, StateEligibility, ""},
		{StateEligibility, domain.OutcomeEligible, StatePolicy, ""},
		{StateEligibility, domain.OutcomeIneligible, StateTerminal, domain.DecisionDeny},
		{StatePolicy, domain.OutcomeApprove, StateTerminal, domain.DecisionApprove},
		{StatePolicy, domain.OutcomePend, StateTerminal, domain.DecisionPend},
		{StatePolicy, domain.OutcomeDeny, StateRegulatory, ""},
		{StateRegulatory, domain.OutcomeNoOverride, StateTerminal, domain.DecisionDeny},
		{StateRegulatory, domain.OutcomeOverrideFound, StateTerminal, domain.DecisionPend},
		{StateRegulatory, domain.OutcomeIndeterminate, StateTerminal, domain.DecisionPend},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%s", tc.state, tc.outcome), func(t *testing.T) {
			next, decision, err := transition(tc.state, domain.StageVerdict{Outcome: tc.outcome})
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if next != tc.next || decision != tc.decision {
				t.Fatalf("got (%s, %s), want (%s, %s)", next, decision, tc.next, tc.decision)
			}
		})
	}
}

func TestTransitionRejectsUndefinedPairs(t *testing.T) {
	_, _, err := transition(StateSanctions, domain.StageVerdict{Outcome: domain.OutcomeEligible})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}
