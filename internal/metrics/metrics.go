// Package metrics holds the bounded-cardinality Prometheus metrics for the
// verification pipeline. Label sets are closed enums; per-request identifiers
// (tenant_id, patient_id, request_id, tool, role) are never used as labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "casf"

// Fail-closed trigger labels.
const (
	TriggerRedis    = "redis"
	TriggerOPA      = "opa"
	TriggerRules    = "rules"
	TriggerPostgres = "postgres"
)

// Metrics holds all Prometheus metrics for the verifier.
// Pass to components that need to record metrics.
type Metrics struct {
	VerifyTotal      prometheus.Counter
	DecisionTotal    *prometheus.CounterVec
	ReplayHitTotal   prometheus.Counter
	ReplayMismatch   prometheus.Counter
	ReplayConcurrent prometheus.Counter
	FailClosedTotal  *prometheus.CounterVec
	RateLimitDeny    prometheus.Counter
	OPAErrorTotal    *prometheus.CounterVec
	VerifyInFlight   prometheus.Gauge
	VerifyDuration   prometheus.Histogram
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		VerifyTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Total verification requests received",
		}),
		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_decision_total",
			Help:      "Terminal decisions by outcome",
		}, []string{"decision"}), // ALLOW or DENY
		ReplayHitTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_hit_total",
			Help:      "Anti-replay cache hits (idempotent returns)",
		}),
		ReplayMismatch: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_mismatch_total",
			Help:      "Anti-replay fingerprint mismatches",
		}),
		ReplayConcurrent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_concurrent_total",
			Help:      "Anti-replay concurrent pending denials",
		}),
		FailClosedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_closed_total",
			Help:      "Fail-closed denials by trigger",
		}, []string{"trigger"}), // redis, opa, rules, postgres
		RateLimitDeny: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_deny_total",
			Help:      "SMS rate-limit denials",
		}),
		OPAErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opa_error_total",
			Help:      "Policy engine evaluation errors by kind",
		}, []string{"kind"}), // timeout, unavailable, bad_status, bad_response
		VerifyInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verify_in_flight",
			Help:      "Verification requests currently being processed",
		}),
		VerifyDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "End-to-end verification latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
	}
}
