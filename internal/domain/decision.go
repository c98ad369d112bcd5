package domain

import "time"

// Outcome is the terminal result of one risk decision. The host framework maps
// each value to its own control-flow signal; Deny and Error stay distinct here.
type Outcome string

const (
	OutcomeProceed Outcome = "proceed"
	OutcomeDeny    Outcome = "deny"
	OutcomeError   Outcome = "error"
)

// DecisionInput carries everything the host framework supplies for one login
// attempt. Principal may be empty (unauthenticated/unknown is still processed).
type DecisionInput struct {
	Principal    string
	RemoteAddr   string // transport-level peer address
	ForwardedFor string // X-Forwarded-For header value, optional
	UserAgent    string // User-Agent header value, optional
	MetricsRaw   string // raw telemetry string, optional; blank means SSO attempt
}

// DecisionResult is returned to the integration layer for one invocation.
type DecisionResult struct {
	Outcome     Outcome
	ThreatScore *float64 // set only when the scoring service was consulted
	Reason      string   // internal diagnostic tag, never shown to end users
}

// Decision reason tags.
const (
	ReasonSSOTrusted       = "sso_no_outstanding_denial"
	ReasonSSODenied        = "sso_denied_principal"
	ReasonMetricsRejected  = "metrics_rejected"
	ReasonScoreBelow       = "score_below_threshold"
	ReasonScoreAtOrAbove   = "score_at_or_above_threshold"
	ReasonScoringFailed    = "scoring_unavailable"
	ReasonNotConfigured    = "endpoint_unconfigured"
	ReasonHostContextError = "host_context_unavailable"
)

// DecisionRecord is one row of the decision audit trail.
type DecisionRecord struct {
	ID          string
	Principal   string
	Outcome     Outcome
	ThreatScore *float64
	IPAddress   string
	CreatedAt   time.Time
}
