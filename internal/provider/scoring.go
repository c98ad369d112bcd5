package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/loginshield/rba-gateway/internal/telemetry"
)

// MaxPayloadBytes caps the serialized outbound document. Oversized payloads
// abort before any network call.
const MaxPayloadBytes = 64 * 1024

// ScorePayload is the outbound document sent to the scoring service. Omitted
// metrics keys stay omitted, never nulled.
type ScorePayload struct {
	Username  string            `json:"username"`
	IPAddress string            `json:"ipAddress"`
	UserAgent string            `json:"userAgent"`
	Metrics   telemetry.Metrics `json:"metrics"`
}

// HTTPScoringClient calls the external risk-scoring service over HTTP.
type HTTPScoringClient struct {
	endpoint string
	logger   *slog.Logger
	client   *http.Client
}

// NewHTTPScoringClient creates a scoring client with bounded timeouts.
func NewHTTPScoringClient(endpoint string, logger *slog.Logger) *HTTPScoringClient {
	return &HTTPScoringClient{
		endpoint: endpoint,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Score posts the payload and returns the service's threatScore. Any transport
// failure, non-2xx status, unparseable body, or missing/non-finite score is an
// error; there is no retry.
func (c *HTTPScoringClient) Score(ctx context.Context, payload ScorePayload) (float64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	if len(body) > MaxPayloadBytes {
		return 0, fmt.Errorf("payload too large (%d bytes)", len(body))
	}

	c.logger.Debug("sending payload to scoring service", "payload", maskPayload(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scoring call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("scoring service returned %d", resp.StatusCode)
	}

	var response struct {
		ThreatScore *float64 `json:"threatScore"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if response.ThreatScore == nil {
		return 0, fmt.Errorf("response missing required threatScore")
	}
	score := *response.ThreatScore
	if math.IsInf(score, 0) || math.IsNaN(score) {
		return 0, fmt.Errorf("threatScore is not finite")
	}

	return score, nil
}

// maskPayload keeps payload log lines size-bounded: short payloads are logged
// whole, long ones as a prefix plus a byte-count marker.
func maskPayload(b []byte) string {
	if len(b) <= 512 {
		return string(b)
	}
	return fmt.Sprintf("%s...[truncated:%d bytes]", b[:256], len(b))
}
