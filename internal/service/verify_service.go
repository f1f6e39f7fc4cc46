// Package service contains the decision orchestrator and the audit digest
// exporter built on the domain ports.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/casf-health/verifier/internal/domain/audit"
	"github.com/casf-health/verifier/internal/domain/canonical"
	"github.com/casf-health/verifier/internal/domain/policy"
	"github.com/casf-health/verifier/internal/domain/ratelimit"
	"github.com/casf-health/verifier/internal/domain/replay"
	"github.com/casf-health/verifier/internal/domain/verify"
	"github.com/casf-health/verifier/internal/metrics"
)

// ActionReplayDetected tags audit events recorded for fingerprint-mismatch
// replays in place of the tool name.
const ActionReplayDetected = "REPLAY_DETECTED"

// SMSRateOverride is a per-tenant replacement for the default SMS burst limit.
type SMSRateOverride struct {
	Limit  int64
	Window time.Duration
}

// VerifyConfig carries the orchestrator's tunables.
type VerifyConfig struct {
	// ReplayEnabled gates the whole anti-replay stage.
	ReplayEnabled bool
	// ReplayTTL bounds the lifetime of anti-replay records.
	ReplayTTL time.Duration
	// SMSLimit / SMSWindow are the default per-patient SMS burst policy.
	SMSLimit  int64
	SMSWindow time.Duration
	// SMSTenantOverrides replaces the default policy for specific tenants.
	SMSTenantOverrides map[string]SMSRateOverride
}

// VerifyService threads a request through the decision pipeline:
// anti-replay claim, hard invariants, rate limiting, external policy,
// audit append, anti-replay cache write. Every path ends in exactly one
// terminal decision, and every terminal decision is audited unless it is an
// idempotent replay hit.
type VerifyService struct {
	gate    replay.Gate
	limiter ratelimit.Limiter
	policy  policy.Evaluator
	store   audit.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     VerifyConfig
}

// NewVerifyService creates the orchestrator over the given ports.
func NewVerifyService(
	gate replay.Gate,
	limiter ratelimit.Limiter,
	evaluator policy.Evaluator,
	store audit.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg VerifyConfig,
) *VerifyService {
	return &VerifyService{
		gate:    gate,
		limiter: limiter,
		policy:  evaluator,
		store:   store,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// Verify produces the terminal decision for one request turn.
func (s *VerifyService) Verify(ctx context.Context, req verify.Request) verify.Response {
	s.metrics.VerifyTotal.Inc()
	s.metrics.VerifyInFlight.Inc()
	timer := prometheus.NewTimer(s.metrics.VerifyDuration)
	defer func() {
		timer.ObserveDuration()
		s.metrics.VerifyInFlight.Dec()
	}()

	resp := s.run(ctx, req)
	s.metrics.DecisionTotal.WithLabelValues(string(resp.Decision)).Inc()
	return resp
}

// replayOutcome is the orchestrator-level result of the anti-replay stage.
type replayOutcome struct {
	// shortCircuit, when non-nil, is the final response for this turn.
	shortCircuit *verify.Response
	// actionOverride replaces the tool name in the audit event.
	actionOverride string
	// skipAudit marks idempotent replay hits, which are never re-audited.
	skipAudit bool
	// fingerprint is the canonical payload fingerprint, "" when the gate
	// was bypassed.
	fingerprint string
	// claimed reports whether this turn owns the pending claim and must
	// write the decision back.
	claimed bool
}

func (s *VerifyService) run(ctx context.Context, req verify.Request) verify.Response {
	isWrite := verify.IsWriteTool(req.Tool)

	ro := s.checkReplay(ctx, req, isWrite)
	if ro.shortCircuit != nil {
		if ro.skipAudit {
			return *ro.shortCircuit
		}
		resp, _ := s.appendAudit(ctx, req, *ro.shortCircuit, ro.actionOverride)
		return resp
	}

	finish := func(resp verify.Response) verify.Response {
		resp, _ = s.appendAudit(ctx, req, resp, "")
		if ro.claimed {
			s.cacheDecision(ctx, req, ro.fingerprint, resp)
		}
		return resp
	}

	// Hard invariants: deterministic, in-process, no network.
	if violations := verify.ApplyRules(req); len(violations) > 0 {
		return finish(verify.Deny(violations...))
	}

	// Per-patient SMS burst limit. Only send_sms is rate-limited in v1.
	if req.Tool == verify.ToolSendSMS {
		limit, window := s.smsPolicy(req.TenantID())
		res, err := s.limiter.CheckAndConsume(ctx, ratelimit.SMSKey(req.PatientID()), window, limit)
		switch {
		case err != nil || res.Outcome == ratelimit.OutcomeUnavailable:
			s.metrics.FailClosedTotal.WithLabelValues(metrics.TriggerRedis).Inc()
			s.logger.Warn("rate limiter unavailable, failing closed",
				"request_id", req.RequestID, "error", err)
			return finish(verify.Deny(verify.ViolationFailClosed, verify.ViolationNoSmsBurst))
		case res.Outcome == ratelimit.OutcomeExceeded:
			s.metrics.RateLimitDeny.Inc()
			return finish(verify.Deny(verify.ViolationNoSmsBurst))
		}
	}

	// External policy engine: fail-closed for writes, bypassed for reads.
	dec, err := s.policy.Evaluate(ctx, policy.Input{
		Tool:    req.Tool,
		Mode:    string(req.Mode),
		Role:    req.Role,
		Subject: req.Subject,
		Args:    req.Args,
		Context: req.Context,
	})
	if err != nil {
		kind := policy.KindOf(err)
		s.metrics.OPAErrorTotal.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("policy engine failure",
			"request_id", req.RequestID, "kind", kind, "error", err)
		if isWrite {
			s.metrics.FailClosedTotal.WithLabelValues(metrics.TriggerOPA).Inc()
			tag := verify.ViolationOpaUnavailable
			if kind == policy.KindTimeout {
				tag = verify.ViolationOpaTimeout
			}
			return finish(verify.Deny(verify.ViolationFailClosed, tag))
		}
		// Read path tolerates a degraded policy engine; the rules layer
		// already passed.
	} else if !dec.Allow {
		violations := dec.Violations
		if len(violations) == 0 {
			violations = []string{verify.ViolationOpaDeny}
		}
		return finish(verify.Deny(mergeTags(nil, violations...)...))
	}

	return finish(verify.Allow(verify.ToolOutputs(req.Tool, req.Mode)))
}

// checkReplay runs the anti-replay stage. Writes fail closed when the gate is
// unreachable; reads bypass it.
func (s *VerifyService) checkReplay(ctx context.Context, req verify.Request, isWrite bool) replayOutcome {
	if !s.cfg.ReplayEnabled {
		return replayOutcome{}
	}

	fingerprint, err := req.Fingerprint()
	if err != nil {
		s.logger.Error("fingerprint computation failed",
			"request_id", req.RequestID, "error", err)
		if isWrite {
			s.metrics.FailClosedTotal.WithLabelValues(metrics.TriggerRules).Inc()
			resp := verify.Deny(verify.ViolationFailClosed, verify.ViolationReplayUnavailable)
			return replayOutcome{shortCircuit: &resp}
		}
		return replayOutcome{}
	}

	res, err := s.gate.Check(ctx, req.RequestID, fingerprint, s.cfg.ReplayTTL)
	if err != nil || res.Status == replay.StatusUnavailable {
		s.logger.Warn("anti-replay store unavailable",
			"request_id", req.RequestID, "error", err)
		if isWrite {
			s.metrics.FailClosedTotal.WithLabelValues(metrics.TriggerRedis).Inc()
			resp := verify.Deny(verify.ViolationFailClosed, verify.ViolationReplayUnavailable)
			return replayOutcome{shortCircuit: &resp}
		}
		return replayOutcome{}
	}

	switch res.Status {
	case replay.StatusHit:
		var cached verify.Response
		if err := json.Unmarshal(res.CachedDecision, &cached); err == nil {
			s.metrics.ReplayHitTotal.Inc()
			return replayOutcome{shortCircuit: &cached, skipAudit: true}
		}
		// Corrupt cache record: re-run the pipeline and overwrite it.
		s.logger.Warn("corrupt cached decision, re-running pipeline",
			"request_id", req.RequestID, "error", err)
		return replayOutcome{fingerprint: fingerprint, claimed: true}
	case replay.StatusMismatch:
		s.metrics.ReplayMismatch.Inc()
		resp := verify.Deny(verify.ViolationReplayMismatch)
		return replayOutcome{shortCircuit: &resp, actionOverride: ActionReplayDetected}
	case replay.StatusConcurrent:
		s.metrics.ReplayConcurrent.Inc()
		resp := verify.Deny(verify.ViolationReplayConcurrent)
		return replayOutcome{shortCircuit: &resp}
	default: // StatusFresh: this turn owns the pending claim.
		return replayOutcome{fingerprint: fingerprint, claimed: true}
	}
}

// appendAudit persists the terminal decision. On failure the decision is
// rewritten to DENY with FAIL_CLOSED and Audit_Unavailable, the append is
// retried once with the rewritten decision, and a last-resort informational
// tail is attached when even the retry fails.
func (s *VerifyService) appendAudit(ctx context.Context, req verify.Request, resp verify.Response, actionOverride string) (verify.Response, error) {
	err := s.append(ctx, req, resp, actionOverride)
	if err == nil {
		return resp, nil
	}

	s.metrics.FailClosedTotal.WithLabelValues(metrics.TriggerPostgres).Inc()
	s.logger.Error("audit append failed",
		"request_id", req.RequestID, "error", err)

	denied := verify.Deny(mergeTags(resp.Violations,
		verify.ViolationFailClosed, verify.ViolationAuditUnavailable)...)

	if retryErr := s.append(ctx, req, denied, actionOverride); retryErr != nil {
		s.logger.Error("audit append retry failed",
			"request_id", req.RequestID, "error", retryErr)
		denied.Reason += " | audit_append_failed"
	}
	return denied, err
}

func (s *VerifyService) append(ctx context.Context, req verify.Request, resp verify.Response, actionOverride string) error {
	payload, err := canonical.Marshal(map[string]any{
		"request":  req,
		"response": resp,
	})
	if err != nil {
		return err
	}

	action := req.Tool
	if actionOverride != "" {
		action = actionOverride
	}

	_, err = s.store.Append(ctx, audit.Draft{
		EventID:   uuid.NewString(),
		RequestID: req.RequestID,
		Actor:     "role:" + req.Role,
		Action:    action,
		Decision:  string(resp.Decision),
		Payload:   payload,
	})
	return err
}

// cacheDecision upgrades the pending anti-replay claim to done. Failures are
// logged only; the returned decision never changes at this stage.
func (s *VerifyService) cacheDecision(ctx context.Context, req verify.Request, fingerprint string, resp verify.Response) {
	raw, err := json.Marshal(resp)
	if err == nil {
		err = s.gate.StoreDecision(ctx, req.RequestID, fingerprint, raw, s.cfg.ReplayTTL)
	}
	if err != nil {
		s.logger.Warn("replay cache write failed",
			"request_id", req.RequestID, "error", err)
	}
}

// smsPolicy returns the burst limit for a tenant, honoring overrides.
func (s *VerifyService) smsPolicy(tenantID string) (int64, time.Duration) {
	if o, ok := s.cfg.SMSTenantOverrides[tenantID]; ok {
		return o.Limit, o.Window
	}
	return s.cfg.SMSLimit, s.cfg.SMSWindow
}

// mergeTags appends extras to tags, dropping duplicates while preserving the
// caller's intent; Deny sorts the final set.
func mergeTags(tags []string, extras ...string) []string {
	seen := make(map[string]bool, len(tags)+len(extras))
	out := make([]string, 0, len(tags)+len(extras))
	for _, t := range append(append([]string(nil), tags...), extras...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
