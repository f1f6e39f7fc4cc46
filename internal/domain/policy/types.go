// Package policy defines the port to the external, deny-by-default policy
// engine and the typed classification of its failure modes.
package policy

import (
	"context"
	"errors"
	"fmt"
)

// Input is the document sent to the policy engine for evaluation.
type Input struct {
	Tool    string            `json:"tool"`
	Mode    string            `json:"mode"`
	Role    string            `json:"role"`
	Subject map[string]string `json:"subject"`
	Args    map[string]any    `json:"args"`
	Context map[string]any    `json:"context"`
}

// Decision is the engine's verdict. Violations carries the engine's own
// stable tags; they are merged into the response verbatim.
type Decision struct {
	Allow      bool
	Violations []string
}

// ErrorKind classifies an evaluation failure. The kinds are part of the
// metrics contract (opa_error_total{kind}).
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindBadStatus   ErrorKind = "bad_status"
	KindBadResponse ErrorKind = "bad_response"
)

// Error is a classified policy engine failure. Every failure implies
// allow=false; the orchestrator maps the kind onto fail-closed violations.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("policy evaluation failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to unavailable for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// Evaluator is the remote policy engine port.
type Evaluator interface {
	// Evaluate submits input and returns the engine's decision.
	// Failures are returned as *Error with a classified kind.
	Evaluate(ctx context.Context, input Input) (Decision, error)

	// Ping verifies the engine can evaluate policy, for readiness checks.
	Ping(ctx context.Context) error
}
