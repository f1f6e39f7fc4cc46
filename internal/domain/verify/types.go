// Package verify defines the request/response model and the deterministic
// hard-invariant rules of the decision pipeline.
package verify

import (
	"sort"
	"strings"

	"github.com/casf-health/verifier/internal/domain/canonical"
)

// Mode is the gateway operating mode supplied with each request.
type Mode string

// Recognized modes. Anything else is rejected with ViolationUnknownMode.
const (
	ModeAllow      Mode = "ALLOW"
	ModeStepUp     Mode = "STEP_UP"
	ModeReadOnly   Mode = "READ_ONLY"
	ModeKillSwitch Mode = "KILL_SWITCH"
)

// KnownMode reports whether m is one of the recognized modes.
// STEP_UP behaves like ALLOW in the rules layer; any further constraint
// is delegated to the external policy engine.
func KnownMode(m Mode) bool {
	switch m {
	case ModeAllow, ModeStepUp, ModeReadOnly, ModeKillSwitch:
		return true
	}
	return false
}

// Decision is the terminal outcome of a verification.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// Violation tags are stable identifiers and part of the wire contract.
const (
	ViolationMissingTenantID  = "BadRequest_MissingTenantId"
	ViolationMissingPatientID = "BadRequest_MissingPatientId"
	ViolationUnknownRole      = "BadRequest_UnknownRole"
	ViolationUnknownMode      = "BadRequest_UnknownMode"
	ViolationUnknownTool      = "Tool_Unknown"

	ViolationKillSwitch      = "Mode_KillSwitch"
	ViolationReadOnlyNoWrite = "Mode_ReadOnly_NoWrite"

	ViolationReplayMismatch    = "Inv_ReplayPayloadMismatch"
	ViolationReplayConcurrent  = "Inv_ReplayConcurrent"
	ViolationReplayUnavailable = "Inv_ReplayCheckUnavailable"

	ViolationNoSmsBurst = "Inv_NoSmsBurst"

	ViolationOpaUnavailable   = "OPA_Unavailable"
	ViolationOpaTimeout       = "OPA_Timeout"
	ViolationOpaDeny          = "OPA_Deny"
	ViolationAuditUnavailable = "Audit_Unavailable"
	ViolationFailClosed       = "FAIL_CLOSED"
)

// Request is a parsed /verify request. Immutable after parse; owned by the
// orchestrator for exactly one turn.
type Request struct {
	RequestID string            `json:"request_id" validate:"required,uuid"`
	Tool      string            `json:"tool" validate:"required"`
	Mode      Mode              `json:"mode" validate:"required"`
	Role      string            `json:"role" validate:"required"`
	Subject   map[string]string `json:"subject" validate:"required"`
	Args      map[string]any    `json:"args"`
	Context   map[string]any    `json:"context" validate:"required"`
}

// PatientID returns subject.patient_id, or "" when absent.
func (r Request) PatientID() string {
	return r.Subject["patient_id"]
}

// TenantID returns context.tenant_id, or "" when absent or not a string.
func (r Request) TenantID() string {
	v, _ := r.Context["tenant_id"].(string)
	return v
}

// Fingerprint returns the SHA-256 hex of the canonicalized request body with
// the request_id field removed. Two requests with the same fingerprint carry
// the same logical payload.
func (r Request) Fingerprint() (string, error) {
	return canonical.Hash(map[string]any{
		"tool":    r.Tool,
		"mode":    r.Mode,
		"role":    r.Role,
		"subject": r.Subject,
		"args":    r.Args,
		"context": r.Context,
	})
}

// Response is the terminal decision returned to the caller.
type Response struct {
	Decision       Decision `json:"decision"`
	Violations     []string `json:"violations"`
	Reason         string   `json:"reason,omitempty"`
	AllowedOutputs []string `json:"allowed_outputs"`
}

// Deny builds a DENY response from the given violation tags. The reason is the
// stable lexicographic concatenation of the tags; callers rely on it being
// deterministic for idempotent replays.
func Deny(violations ...string) Response {
	sorted := append([]string(nil), violations...)
	sort.Strings(sorted)
	return Response{
		Decision:       DecisionDeny,
		Violations:     sorted,
		Reason:         strings.Join(sorted, ", "),
		AllowedOutputs: []string{},
	}
}

// Allow builds an ALLOW response carrying the tool's permitted output channels.
func Allow(outputs []string) Response {
	if outputs == nil {
		outputs = []string{}
	}
	return Response{
		Decision:       DecisionAllow,
		Violations:     []string{},
		Reason:         "OK",
		AllowedOutputs: outputs,
	}
}
