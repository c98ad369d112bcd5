package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loginshield/rba-gateway/internal/domain"
	"github.com/loginshield/rba-gateway/internal/guard"
	"github.com/loginshield/rba-gateway/internal/provider"
	"github.com/loginshield/rba-gateway/internal/telemetry"
)

// Scorer obtains a threat score for one outbound payload.
type Scorer interface {
	Score(ctx context.Context, payload provider.ScorePayload) (float64, error)
}

// AuditSink records completed decisions. Failures are logged, never fatal.
type AuditSink interface {
	RecordDecision(ctx context.Context, rec domain.DecisionRecord) error
}

// EventPublisher publishes decision events to a message topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Deps holds everything an Engine needs. Scorer, Validator, and Denials are
// required; Audit and Events are optional.
type Deps struct {
	Scorer     Scorer
	Validator  *telemetry.Validator
	Denials    guard.DenialStore
	Audit      AuditSink
	Events     EventPublisher
	EventTopic string
	Threshold  float64
	Logger     *slog.Logger
}

// Engine runs one risk decision per invocation. All mutable state lives in the
// injected DenialStore, so a single Engine serves concurrent logins.
type Engine struct {
	scorer     Scorer
	validator  *telemetry.Validator
	denials    guard.DenialStore
	audit      AuditSink
	events     EventPublisher
	eventTopic string
	threshold  float64
	logger     *slog.Logger
}

// New creates a decision engine.
func New(deps Deps) *Engine {
	return &Engine{
		scorer:     deps.Scorer,
		validator:  deps.Validator,
		denials:    deps.Denials,
		audit:      deps.Audit,
		events:     deps.Events,
		eventTopic: deps.EventTopic,
		threshold:  deps.Threshold,
		logger:     deps.Logger,
	}
}

// Decide runs the decision state machine for one login attempt.
//
// No telemetry: the attempt is an SSO continuation. A principal with an
// outstanding denial is blocked; anyone else proceeds without a fresh score.
// Telemetry present: validate, score, and compare against the threshold.
// Present-but-invalid telemetry always denies (and records the denial) even
// with no prior record — suppressing the telemetry field must never be cheaper
// than sending clean telemetry.
func (e *Engine) Decide(ctx context.Context, in domain.DecisionInput) domain.DecisionResult {
	principal := telemetry.Sanitize(in.Principal)
	ip := telemetry.Sanitize(ClientIP(in.ForwardedFor, in.RemoteAddr))
	ua := telemetry.Sanitize(in.UserAgent)

	e.logger.Info("starting risk check", "principal", principal, "ip", ip)

	if e.scorer == nil {
		e.logger.Error("scoring endpoint is not configured")
		return e.finish(ctx, principal, ip, domain.DecisionResult{
			Outcome: domain.OutcomeError,
			Reason:  domain.ReasonNotConfigured,
		})
	}

	if strings.TrimSpace(in.MetricsRaw) == "" {
		return e.decideWithoutTelemetry(ctx, principal, ip)
	}

	metrics, err := e.validator.Validate(in.MetricsRaw)
	if err != nil {
		e.logger.Warn("metrics rejected; denying access", "principal", principal)
		e.recordDenial(ctx, principal)
		return e.finish(ctx, principal, ip, domain.DecisionResult{
			Outcome: domain.OutcomeDeny,
			Reason:  domain.ReasonMetricsRejected,
		})
	}

	score, err := e.scorer.Score(ctx, provider.ScorePayload{
		Username:  principal,
		IPAddress: ip,
		UserAgent: ua,
		Metrics:   metrics,
	})
	if err != nil {
		e.logger.Error("scoring service call failed", "principal", principal, "error", err)
		return e.finish(ctx, principal, ip, domain.DecisionResult{
			Outcome: domain.OutcomeError,
			Reason:  domain.ReasonScoringFailed,
		})
	}

	e.logger.Info("threat score evaluated", "principal", principal, "score", score, "threshold", e.threshold)

	if score < e.threshold {
		if err := e.denials.Clear(ctx, principal); err != nil {
			e.logger.Warn("denial store clear failed", "principal", principal, "error", err)
		}
		e.logger.Info("principal passed risk check", "principal", principal)
		return e.finish(ctx, principal, ip, domain.DecisionResult{
			Outcome:     domain.OutcomeProceed,
			ThreatScore: &score,
			Reason:      domain.ReasonScoreBelow,
		})
	}

	e.recordDenial(ctx, principal)
	e.logger.Warn("login denied by risk check",
		"principal", principal, "score", score, "threshold", e.threshold, "blocked_for", guard.DenialTTL)
	return e.finish(ctx, principal, ip, domain.DecisionResult{
		Outcome:     domain.OutcomeDeny,
		ThreatScore: &score,
		Reason:      domain.ReasonScoreAtOrAbove,
	})
}

// decideWithoutTelemetry handles the SSO path: no fresh login form was
// rendered, so only the denial cache speaks for the principal.
func (e *Engine) decideWithoutTelemetry(ctx context.Context, principal, ip string) domain.DecisionResult {
	denied, err := e.denials.IsDenied(ctx, principal)
	if err != nil {
		// Fail open on store errors, same as a lockout check against an
		// unreachable database: availability over a stale denial.
		e.logger.Warn("denial store lookup failed; treating as not denied", "principal", principal, "error", err)
		denied = false
	}

	if denied {
		e.logger.Warn("sso attempt by previously denied principal; blocking", "principal", principal)
		return e.finish(ctx, principal, ip, domain.DecisionResult{
			Outcome: domain.OutcomeDeny,
			Reason:  domain.ReasonSSODenied,
		})
	}

	e.logger.Info("sso attempt with no outstanding denial; allowing", "principal", principal)
	return e.finish(ctx, principal, ip, domain.DecisionResult{
		Outcome: domain.OutcomeProceed,
		Reason:  domain.ReasonSSOTrusted,
	})
}

func (e *Engine) recordDenial(ctx context.Context, principal string) {
	if err := e.denials.RecordDenial(ctx, principal); err != nil {
		e.logger.Warn("denial store record failed", "principal", principal, "error", err)
	}
}

// finish writes the audit row and publishes the decision event, best effort,
// then hands the result back.
func (e *Engine) finish(ctx context.Context, principal, ip string, res domain.DecisionResult) domain.DecisionResult {
	now := time.Now().UTC()

	if e.audit != nil {
		rec := domain.DecisionRecord{
			ID:          uuid.New().String(),
			Principal:   principal,
			Outcome:     res.Outcome,
			ThreatScore: res.ThreatScore,
			IPAddress:   ip,
			CreatedAt:   now,
		}
		if err := e.audit.RecordDecision(ctx, rec); err != nil {
			e.logger.Warn("decision audit write failed", "principal", principal, "error", err)
		}
	}

	if e.events != nil {
		event := domain.DecisionEvent{
			EventID:     uuid.New().String(),
			Principal:   principal,
			Outcome:     res.Outcome,
			ThreatScore: res.ThreatScore,
			IPAddress:   ip,
			OccurredAt:  now,
		}
		value, err := json.Marshal(event)
		if err == nil {
			err = e.events.Publish(ctx, e.eventTopic, []byte(principal), value)
		}
		if err != nil {
			e.logger.Warn("decision event publish failed", "principal", principal, "error", err)
		}
	}

	return res
}
