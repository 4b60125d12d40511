package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// JSON-over-HTTP clients for the two collaborators that live outside this
// service: the benefits/NPI registry and the policy-criteria evaluator.
// Both map HTTP 429 to ThrottleError so the reliability wrapper can honor
// Retry-After.

const maxCollaboratorBody = 1 << 20 // 1 MiB

type httpAPI struct {
	baseURL string
	client  *http.Client
}

func (a *httpAPI) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 1 * time.Second
		if secs, parseErr := strconv.Atoi(resp.Header.Get("Retry-After")); parseErr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("collaborator returned %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collaborator returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCollaboratorBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// EligibilityClient calls the external benefits service.
type EligibilityClient struct {
	api httpAPI
}

func NewEligibilityClient(baseURL string, timeout time.Duration) *EligibilityClient {
	return &EligibilityClient{api: httpAPI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}}
}

func (c *EligibilityClient) CheckEligibility(ctx context.Context, q EligibilityQuery) (*EligibilityResult, error) {
	var res EligibilityResult
	if err := c.api.postJSON(ctx, "/v1/eligibility/check", q, &res); err != nil {
		return nil, fmt.Errorf("eligibility: %w", err)
	}
	return &res, nil
}

// PolicyClient calls the external policy-criteria evaluator.
type PolicyClient struct {
	api httpAPI
}

func NewPolicyClient(baseURL string, timeout time.Duration) *PolicyClient {
	return &PolicyClient{api: httpAPI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}}
}

func (c *PolicyClient) EvaluatePolicy(ctx context.Context, q PolicyQuery) (*PolicyEvaluation, error) {
	var ev PolicyEvaluation
	if err := c.api.postJSON(ctx, "/v1/policy/evaluate", q, &ev); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	switch ev.Verdict {
	case "APPROVE", "DENY", "PEND":
	default:
		return nil, fmt.Errorf("policy: evaluator returned unknown determination %q", ev.Verdict)
	}
	return &ev, nil
}
