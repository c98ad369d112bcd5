package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loginshield/rba-gateway/internal/domain"
	"github.com/loginshield/rba-gateway/internal/guard"
	"github.com/loginshield/rba-gateway/internal/provider"
	"github.com/loginshield/rba-gateway/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScorer struct {
	score       float64
	err         error
	calls       int
	lastPayload provider.ScorePayload
}

func (s *stubScorer) Score(_ context.Context, payload provider.ScorePayload) (float64, error) {
	s.calls++
	s.lastPayload = payload
	return s.score, s.err
}

type capturedEvent struct {
	topic string
	event domain.DecisionEvent
}

type stubPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *stubPublisher) Publish(_ context.Context, topic string, _, value []byte) error {
	var ev domain.DecisionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{topic: topic, event: ev})
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type engineFixture struct {
	engine  *Engine
	scorer  *stubScorer
	denials *guard.DenialCache
	clock   *testClock
	events  *stubPublisher
}

func newFixture(t *testing.T, threshold float64) *engineFixture {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	scorer := &stubScorer{}
	denials := guard.NewDenialCacheWithClock(time.Hour, clock.Now)
	events := &stubPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(Deps{
		Scorer:     scorer,
		Validator:  telemetry.NewValidator(telemetry.DefaultFields(), logger),
		Denials:    denials,
		Events:     events,
		EventTopic: "rba.decisions",
		Threshold:  threshold,
		Logger:     logger,
	})
	return &engineFixture{engine: eng, scorer: scorer, denials: denials, clock: clock, events: events}
}

func (f *engineFixture) decide(in domain.DecisionInput) domain.DecisionResult {
	return f.engine.Decide(context.Background(), in)
}

func TestDecide_NoTelemetryNoDenialRecordProceeds(t *testing.T) {
	f := newFixture(t, 0.7)

	result := f.decide(domain.DecisionInput{Principal: "alice"})

	assert.Equal(t, domain.OutcomeProceed, result.Outcome)
	assert.Equal(t, domain.ReasonSSOTrusted, result.Reason)
	assert.Zero(t, f.scorer.calls, "sso path must not call the scoring service")
}

func TestDecide_NoTelemetryRecentDenialDenies(t *testing.T) {
	f := newFixture(t, 0.7)
	require.NoError(t, f.denials.RecordDenial(context.Background(), "alice"))
	f.clock.Advance(10 * time.Minute)

	result := f.decide(domain.DecisionInput{Principal: "alice"})

	assert.Equal(t, domain.OutcomeDeny, result.Outcome)
	assert.Equal(t, domain.ReasonSSODenied, result.Reason)
}

func TestDecide_NoTelemetryStaleDenialProceedsAndEvicts(t *testing.T) {
	f := newFixture(t, 0.7)
	require.NoError(t, f.denials.RecordDenial(context.Background(), "alice"))
	f.clock.Advance(61 * time.Minute)

	result := f.decide(domain.DecisionInput{Principal: "alice"})
	assert.Equal(t, domain.OutcomeProceed, result.Outcome)

	// The stale record is gone: a lookup within the original TTL window of
	// the evicted record still reports not denied.
	denied, err := f.denials.IsDenied(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestDecide_ClampedTelemetryStillScored(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.1

	result := f.decide(domain.DecisionInput{
		Principal:  "alice",
		MetricsRaw: `{"key_count": 99999999, "touch_support": "yes"}`,
	})

	assert.Equal(t, domain.OutcomeProceed, result.Outcome)
	require.Equal(t, 1, f.scorer.calls)

	metrics := f.scorer.lastPayload.Metrics
	assert.Equal(t, int64(10000), metrics["key_count"])
	_, present := metrics["touch_support"]
	assert.False(t, present, "wrong-typed field must be omitted from the outbound payload")
}

func TestDecide_HighScoreDeniesAndBlocksFollowUpSSO(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.9

	result := f.decide(domain.DecisionInput{
		Principal:  "alice",
		MetricsRaw: `{"key_count": 10}`,
	})
	assert.Equal(t, domain.OutcomeDeny, result.Outcome)
	require.NotNil(t, result.ThreatScore)
	assert.Equal(t, 0.9, *result.ThreatScore)

	// A no-telemetry SSO attempt within the hour is blocked.
	f.clock.Advance(30 * time.Minute)
	followUp := f.decide(domain.DecisionInput{Principal: "alice"})
	assert.Equal(t, domain.OutcomeDeny, followUp.Outcome)
	assert.Equal(t, domain.ReasonSSODenied, followUp.Reason)
}

func TestDecide_LowScoreClearsOutstandingDenial(t *testing.T) {
	f := newFixture(t, 0.7)
	require.NoError(t, f.denials.RecordDenial(context.Background(), "alice"))
	f.scorer.score = 0.2

	result := f.decide(domain.DecisionInput{
		Principal:  "alice",
		MetricsRaw: `{"key_count": 10}`,
	})
	assert.Equal(t, domain.OutcomeProceed, result.Outcome)

	denied, err := f.denials.IsDenied(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, denied, "a passing score must clear the denial record")
}

func TestDecide_ScoreAtThresholdDenies(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.7

	result := f.decide(domain.DecisionInput{Principal: "alice", MetricsRaw: `{"key_count": 1}`})
	assert.Equal(t, domain.OutcomeDeny, result.Outcome)
}

func TestDecide_InvalidTelemetryDeniesAndRecordsDenial(t *testing.T) {
	f := newFixture(t, 0.7)

	result := f.decide(domain.DecisionInput{
		Principal:  "alice",
		MetricsRaw: `[1, 2, 3]`,
	})
	assert.Equal(t, domain.OutcomeDeny, result.Outcome)
	assert.Equal(t, domain.ReasonMetricsRejected, result.Reason)
	assert.Zero(t, f.scorer.calls)

	denied, err := f.denials.IsDenied(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, denied, "invalid telemetry must mark the principal denied")
}

func TestDecide_ScoringFailureIsErrorNotDeny(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.err = errors.New("connection refused")

	result := f.decide(domain.DecisionInput{Principal: "alice", MetricsRaw: `{"key_count": 1}`})
	assert.Equal(t, domain.OutcomeError, result.Outcome)
	assert.Equal(t, domain.ReasonScoringFailed, result.Reason)

	// A scoring outage is a system fault, not suspicion: no denial recorded.
	denied, err := f.denials.IsDenied(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestDecide_NilScorerIsConfigError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(Deps{
		Validator: telemetry.NewValidator(telemetry.DefaultFields(), logger),
		Denials:   guard.NewDenialCache(time.Hour),
		Threshold: 0.7,
		Logger:    logger,
	})

	result := eng.Decide(context.Background(), domain.DecisionInput{Principal: "alice"})
	assert.Equal(t, domain.OutcomeError, result.Outcome)
	assert.Equal(t, domain.ReasonNotConfigured, result.Reason)
}

func TestDecide_SanitizesIdentityAndContext(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.1

	f.decide(domain.DecisionInput{
		Principal:    "ali\nce",
		RemoteAddr:   "10.0.0.1",
		ForwardedFor: "203.0.113.7\r\n, 10.0.0.1",
		UserAgent:    "agent\x00v1",
		MetricsRaw:   `{"key_count": 1}`,
	})

	require.Equal(t, 1, f.scorer.calls)
	assert.Equal(t, "alice", f.scorer.lastPayload.Username)
	assert.Equal(t, "203.0.113.7", f.scorer.lastPayload.IPAddress)
	assert.Equal(t, "agentv1", f.scorer.lastPayload.UserAgent)
}

func TestDecide_EmptyPrincipalStillProcessed(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.1

	result := f.decide(domain.DecisionInput{MetricsRaw: `{"key_count": 1}`})
	assert.Equal(t, domain.OutcomeProceed, result.Outcome)
	assert.Equal(t, "", f.scorer.lastPayload.Username)
}

func TestDecide_PublishesDecisionEvents(t *testing.T) {
	f := newFixture(t, 0.7)
	f.scorer.score = 0.9

	f.decide(domain.DecisionInput{Principal: "alice", MetricsRaw: `{"key_count": 1}`})

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 1)
	got := f.events.events[0]
	assert.Equal(t, "rba.decisions", got.topic)
	assert.Equal(t, "alice", got.event.Principal)
	assert.Equal(t, domain.OutcomeDeny, got.event.Outcome)
	require.NotNil(t, got.event.ThreatScore)
	assert.Equal(t, 0.9, *got.event.ThreatScore)
	assert.NotEmpty(t, got.event.EventID)
}
