package domain

import "time"

// DecisionEvent is published after each decision when eventing is enabled.
// It carries identity and outcome only — telemetry never leaves the validator.
type DecisionEvent struct {
	EventID     string    `json:"eventId"`
	Principal   string    `json:"principal"`
	Outcome     Outcome   `json:"outcome"`
	ThreatScore *float64  `json:"threatScore,omitempty"`
	IPAddress   string    `json:"ipAddress"`
	OccurredAt  time.Time `json:"occurredAt"`
}
