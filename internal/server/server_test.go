package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/priorauth/internal/audit"
	"github.com/xela07ax/priorauth/internal/domain"
	"github.com/xela07ax/priorauth/internal/infra"
	"github.com/xela07ax/priorauth/internal/lookup"
	"github.com/xela07ax/priorauth/internal/pipeline"
	"github.com/xela07ax/priorauth/internal/server/handler"
	"github.com/xela07ax/priorauth/internal/server/service"
)

// --- collaborator fakes ----------------------------------------------------

type clearExclusions struct{}

func (clearExclusions) Check(context.Context, string, string) (*lookup.ExclusionRecord, error) {
	return nil, nil
}

type noRelations struct{}

func (noRelations) Relation(context.Context, string, string) (*lookup.CodeRelation, error) {
	return nil, nil
}

type allValidDiagnoses struct{}

func (allValidDiagnoses) ValidateDiagnosis(_ context.Context, code string, serviceDate time.Time) (*lookup.DiagnosisInfo, error) {
	return &lookup.DiagnosisInfo{Code: code, FiscalYear: serviceDate.Year(), Valid: true, Billable: true}, nil
}

type allEligible struct{}

func (allEligible) CheckEligibility(context.Context, lookup.EligibilityQuery) (*lookup.EligibilityResult, error) {
	return &lookup.EligibilityResult{MemberEligible: true, ProviderValid: true, InNetwork: true}, nil
}

type approvingPolicy struct{}

func (approvingPolicy) EvaluatePolicy(context.Context, lookup.PolicyQuery) (*lookup.PolicyEvaluation, error) {
	return &lookup.PolicyEvaluation{Verdict: domain.OutcomeApprove, PolicyRefs: []string{"MCG-A-0421"}}, nil
}

type noMandates struct{}

func (noMandates) Mandates(context.Context, lookup.RegulatoryQuery) ([]lookup.RegulatoryMandate, error) {
	return nil, nil
}

type fakeCanceller struct{ cancelled []string }

func (f *fakeCanceller) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeStats struct{}

func (fakeStats) GetDashboardStats(context.Context) (*domain.DashboardStats, error) {
	d := &domain.DashboardStats{}
	d.Activity.TotalRequests = 12
	d.Decisions.Approved = 7
	return d, nil
}

type fakeHealth struct{ pingErr error }

func (f *fakeHealth) Ping(context.Context) error { return f.pingErr }
func (f *fakeHealth) GetReferenceCounts(context.Context) (*domain.ReferenceCounts, error) {
	return &domain.ReferenceCounts{Exclusions: 100, CodeEdits: 50, Diagnoses: 70000, Mandates: 30}, nil
}

type fakeUsers struct{ hash string }

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	if username != "reviewer" {
		return nil, nil
	}
	return &domain.User{
		ID:           "u-1",
		Username:     "reviewer",
		PasswordHash: f.hash,
		Role:         "reviewer",
		Scopes:       map[string]bool{"pa.submit": true},
	}, nil
}

// --- harness ---------------------------------------------------------------

func newTestServer(t *testing.T, canceller *fakeCanceller) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	checks := audit.NopCheckLogger{}

	controller := pipeline.NewController(
		pipeline.NewSanctionsStage(clearExclusions{}, checks, logger),
		pipeline.NewCodingStage(allValidDiagnoses{}, noRelations{}, checks, logger),
		pipeline.NewEligibilityStage(allEligible{}, logger),
		pipeline.NewPolicyStage(approvingPolicy{}, logger),
		pipeline.NewRegulatoryStage(noMandates{}, checks, 730, logger),
		audit.NewRecorder(audit.NewMemoryStore(), logger),
		nil, nil, logger,
	)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	authService := service.NewAuthService(&fakeUsers{hash: string(hash)}, key, time.Hour)
	adjService := service.NewAdjudicationService(controller, canceller, fakeStats{})

	srv := New(
		&infra.Config{},
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewPriorAuthHandler(adjService, logger),
		handler.NewDashboardHandler(adjService, logger),
		handler.NewHealthHandler(&fakeHealth{}),
	)
	return httptest.NewServer(srv)
}

func login(t *testing.T, baseURL string) string {
	t.Helper()
	body := bytes.NewBufferString(`{"username":"reviewer","password":"secret"}`)
	res, err := http.Post(baseURL+"/auth/token", "application/json", body)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", res.StatusCode)
	}
	var tok domain.TokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return tok.AccessToken
}

func doJSON(t *testing.T, method, url, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return res
}

func submission(id string) []byte {
	return []byte(fmt.Sprintf(`{
		"request_id": %q,
		"member_id": "M1001",
		"npi": "1234567893",
		"provider_name": "Dr. Santos",
		"icd10_codes": ["M17.11"],
		"cpt_codes": ["27447"],
		"lob": "commercial",
		"service_date": "2025-03-15",
		"state": "CA"
	}`, id))
}

// --- tests -----------------------------------------------------------------

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()

	res := doJSON(t, http.MethodPost, srv.URL+"/api/prior-auth", "", submission("req-1"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestSubmitAndFetchAudit(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()
	token := login(t, srv.URL)

	res := doJSON(t, http.MethodPost, srv.URL+"/api/prior-auth", token, submission("req-1"))
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status: %d", res.StatusCode)
	}

	var result domain.PipelineResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Decision != domain.DecisionApprove {
		t.Fatalf("decision = %s, want APPROVE", result.Decision)
	}
	if result.AuditRef == "" {
		t.Fatal("missing audit_ref")
	}

	auditRes := doJSON(t, http.MethodGet, srv.URL+"/api/prior-auth/req-1/audit", token, nil)
	defer auditRes.Body.Close()
	if auditRes.StatusCode != http.StatusOK {
		t.Fatalf("audit status: %d", auditRes.StatusCode)
	}
	var rec audit.AuditRecord
	if err := json.NewDecoder(auditRes.Body).Decode(&rec); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if rec.Ref != result.AuditRef || len(rec.Verdicts) == 0 {
		t.Fatalf("audit record = %+v", rec)
	}
}

func TestSubmitRejectsBadServiceDate(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()
	token := login(t, srv.URL)

	body := []byte(`{"member_id":"M1","npi":"1234567893","icd10_codes":["M17.11"],"cpt_codes":["27447"],"lob":"commercial","service_date":"03/15/2025"}`)
	res := doJSON(t, http.MethodPost, srv.URL+"/api/prior-auth", token, body)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()
	token := login(t, srv.URL)

	body := []byte(`{"member_id":"M1","npi":"1234567893","icd10_codes":[],"cpt_codes":["27447"],"lob":"commercial","service_date":"2025-03-15"}`)
	res := doJSON(t, http.MethodPost, srv.URL+"/api/prior-auth", token, body)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	canceller := &fakeCanceller{}
	srv := newTestServer(t, canceller)
	defer srv.Close()
	token := login(t, srv.URL)

	res := doJSON(t, http.MethodDelete, srv.URL+"/api/prior-auth/req-9", token, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.StatusCode)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != "req-9" {
		t.Fatalf("cancelled = %v", canceller.cancelled)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var payload struct {
		Status     string                 `json:"status"`
		References domain.ReferenceCounts `json:"references"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.References.Exclusions != 100 {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()

	body := bytes.NewBufferString(`{"username":"reviewer","password":"wrong"}`)
	res, err := http.Post(srv.URL+"/auth/token", "application/json", body)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestDashboardStats(t *testing.T) {
	srv := newTestServer(t, &fakeCanceller{})
	defer srv.Close()
	token := login(t, srv.URL)

	res := doJSON(t, http.MethodGet, srv.URL+"/api/v1/dashboard/stats", token, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var stats domain.DashboardStats
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Decisions.Approved != 7 {
		t.Fatalf("stats = %+v", stats)
	}
}
