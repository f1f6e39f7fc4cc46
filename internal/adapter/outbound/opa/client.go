// Package opa implements the policy engine port over OPA's data API.
package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/casf-health/verifier/internal/domain/policy"
)

// evalTimeout is the total budget for one policy evaluation.
const evalTimeout = 350 * time.Millisecond

// policyPath is the OPA data API path holding the decision document.
const policyPath = "/v1/data/casf"

// Client evaluates requests against a remote OPA instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the OPA instance at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: evalTimeout},
	}
}

var _ policy.Evaluator = (*Client)(nil)

// dataResponse is the OPA data API envelope.
type dataResponse struct {
	Result *struct {
		Allow      bool     `json:"allow"`
		Violations []string `json:"violations"`
	} `json:"result"`
}

// Evaluate posts {"input": input} to the decision document and returns the
// engine's verdict. Every failure is classified as a *policy.Error; an absent
// result document is a deny, not an error (deny-by-default).
func (c *Client) Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return policy.Decision{}, &policy.Error{Kind: policy.KindBadResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+policyPath, bytes.NewReader(body))
	if err != nil {
		return policy.Decision{}, &policy.Error{Kind: policy.KindUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return policy.Decision{}, &policy.Error{Kind: classifyTransport(err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return policy.Decision{}, &policy.Error{
			Kind: policy.KindBadStatus,
			Err:  fmt.Errorf("opa returned status %d", resp.StatusCode),
		}
	}

	var parsed dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return policy.Decision{}, &policy.Error{Kind: policy.KindBadResponse, Err: err}
	}
	if parsed.Result == nil {
		// No decision document loaded: OPA is deny-by-default.
		return policy.Decision{Allow: false}, nil
	}
	return policy.Decision{
		Allow:      parsed.Result.Allow,
		Violations: parsed.Result.Violations,
	}, nil
}

// Ping posts a minimal evaluation to verify the engine can actually evaluate
// policy, not merely that its process is alive.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	body := []byte(`{"input":{"tool":"healthcheck"}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+policyPath+"/allow", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("opa: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("opa: status %d", resp.StatusCode)
	}
	return nil
}

// classifyTransport separates deadline expiry from other transport failures.
func classifyTransport(err error) policy.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return policy.KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return policy.KindTimeout
	}
	return policy.KindUnavailable
}
