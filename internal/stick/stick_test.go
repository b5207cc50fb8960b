// ABOUTME: Tests for the turn-taking coordinator.
// ABOUTME: Covers mode transitions, grants, releases, violations, and nudges.

package stick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// staticRoster serves a fixed agent list.
type staticRoster struct {
	agents []*store.Agent
}

func (r *staticRoster) ListAgents(context.Context) ([]*store.Agent, error) {
	return r.agents, nil
}

// recordingAlerter captures social-pressure alerts.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, body)
}

func (a *recordingAlerter) Alerts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.alerts...)
}

func newCoordinator(opts ...Option) *Coordinator {
	return New(&staticRoster{}, nil, nil, opts...)
}

func TestChaosAllowsEveryone(t *testing.T) {
	c := newCoordinator()

	assert.True(t, c.MayBroadcast("a1"))
	assert.True(t, c.MayBroadcast("a2"))
	assert.Equal(t, ModeChaos, c.Mode())
}

func TestEnterSpeakingStick(t *testing.T) {
	c := newCoordinator()

	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))

	status := c.Status()
	assert.Equal(t, ModeSpeakingStick, status.Mode)
	assert.Equal(t, "a1", status.Ruler)
	assert.Equal(t, "a1", status.Holder)
	assert.Empty(t, status.Queue)

	// The ruler starts holding the privilege
	assert.True(t, c.MayBroadcast("a1"))
	assert.False(t, c.MayBroadcast("a2"))
}

func TestSetModeValidation(t *testing.T) {
	c := newCoordinator()

	var verr *validate.Error
	assert.ErrorAs(t, c.SetMode("anarchy", "a1", EnforcementSuggestion), &verr)
	assert.ErrorAs(t, c.SetMode(ModeSpeakingStick, "", EnforcementSuggestion), &verr)
	assert.ErrorAs(t, c.SetMode(ModeSpeakingStick, "a1", "draconian"), &verr)
}

func TestGrantRequiresRuler(t *testing.T) {
	c := newCoordinator()
	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))

	res := c.GrantTo("a2", "a3", "", "")
	assert.False(t, res.Granted)
	assert.Equal(t, "not_ruler", res.Error)
	assert.Equal(t, "a1", c.Holder(), "denied grant must not mutate state")

	res = c.GrantTo("a1", "a2", "deploy plan", "speaker")
	assert.True(t, res.Granted)
	assert.Equal(t, "a2", res.Holder)
	assert.True(t, c.MayBroadcast("a2"))
	assert.False(t, c.MayBroadcast("a1"))
}

func TestGrantInChaosFails(t *testing.T) {
	c := newCoordinator()

	res := c.GrantTo("a1", "a2", "", "")
	assert.False(t, res.Granted)
	assert.Equal(t, "wrong_mode", res.Error)
}

func TestReleaseReturnsControlToRuler(t *testing.T) {
	c := newCoordinator()
	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))
	require.True(t, c.GrantTo("a1", "a2", "", "").Granted)

	// Only the holder may release
	res := c.Release("a3", "done", "")
	assert.False(t, res.Released)
	assert.Equal(t, "not_holder", res.Error)
	assert.Equal(t, "a2", c.Holder())

	res = c.Release("a2", "finished review", "")
	assert.True(t, res.Released)
	assert.Equal(t, "a1", res.Holder, "control returns to the ruler")
}

func TestViolationEscalationTiers(t *testing.T) {
	c := newCoordinator()
	ctx := context.Background()

	wantTiers := []Tier{
		TierMild, TierMild,
		TierModerate, TierModerate, TierModerate,
		TierShame, TierShame,
	}
	for i, want := range wantTiers {
		res := c.TrackViolation(ctx, "a1", "broadcast_denied", "")
		assert.Equal(t, i+1, res.Count)
		assert.Equal(t, want, res.Tier, "count %d", i+1)
	}

	res := c.TrackViolation(ctx, "a1", "broadcast_denied", "")
	assert.True(t, res.Deprioritize)
	assert.True(t, res.Timeout)
	assert.Equal(t, 8, c.ViolationCount("a1"))

	// Counters are per agent
	assert.Equal(t, 0, c.ViolationCount("a2"))
}

func TestViolationFlags(t *testing.T) {
	c := newCoordinator()
	ctx := context.Background()

	res := c.TrackViolation(ctx, "a1", "interruption", "")
	assert.False(t, res.Deprioritize)
	assert.False(t, res.Timeout)

	for i := 0; i < 2; i++ {
		res = c.TrackViolation(ctx, "a1", "interruption", "")
	}
	assert.Equal(t, TierModerate, res.Tier)
	assert.True(t, res.Deprioritize)
	assert.False(t, res.Timeout)
}

func TestSocialPressureAlerts(t *testing.T) {
	alerter := &recordingAlerter{}
	c := New(&staticRoster{}, alerter, nil)
	ctx := context.Background()

	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSocialPressure))

	c.TrackViolation(ctx, "a2", "broadcast_denied", "tried to broadcast a joke")

	alerts := alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "a2")
	assert.Contains(t, alerts[0], "broadcast_denied")
}

func TestSuggestionLevelDoesNotAlert(t *testing.T) {
	alerter := &recordingAlerter{}
	c := New(&staticRoster{}, alerter, nil)

	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))
	c.TrackViolation(context.Background(), "a2", "broadcast_denied", "")

	assert.Empty(t, alerter.Alerts())
}

func TestModeResetReopensBroadcast(t *testing.T) {
	c := newCoordinator()

	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))
	assert.False(t, c.MayBroadcast("a2"))

	require.NoError(t, c.SetMode(ModeChaos, "", EnforcementSuggestion))

	status := c.Status()
	assert.Empty(t, status.Ruler)
	assert.Empty(t, status.Holder)
	assert.Empty(t, status.Queue)
	assert.True(t, c.MayBroadcast("a1"))
	assert.True(t, c.MayBroadcast("a2"))
}

func TestForceReset(t *testing.T) {
	c := newCoordinator()
	ctx := context.Background()

	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSocialPressure))
	c.TrackViolation(ctx, "a2", "broadcast_denied", "")

	c.ForceReset()

	status := c.Status()
	assert.Equal(t, ModeChaos, status.Mode)
	assert.Empty(t, status.Ruler)
	assert.Empty(t, status.Holder)
	assert.Empty(t, status.Violations)
	assert.Equal(t, EnforcementSuggestion, status.EnforcementLevel)
}

func TestNudgeSilent(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }

	roster := &staticRoster{agents: []*store.Agent{
		{ID: "a1", Name: "Dev", LastActiveAt: now.Add(-10 * time.Minute)},
		{ID: "a2", Name: "Test", LastActiveAt: now.Add(-1 * time.Minute)},
		{ID: "a3", Name: "Ops", LastActiveAt: now.Add(-7 * time.Minute)},
	}}
	c := New(roster, nil, nil, WithClock(clock))
	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))

	nudges, err := c.NudgeSilent(context.Background())
	require.NoError(t, err)
	require.Len(t, nudges, 2, "only agents idle beyond the threshold are flagged")

	byID := map[string]Nudge{}
	for _, n := range nudges {
		byID[n.AgentID] = n
	}
	require.Contains(t, byID, "a1")
	assert.Equal(t, "holder", byID["a1"].Role)
	assert.Contains(t, byID["a1"].Suggestion, "speaking stick")

	require.Contains(t, byID, "a3")
	assert.Equal(t, "silent", byID["a3"].Role)
}

func TestNudgeSilentHonorsGateActivity(t *testing.T) {
	now := time.Now().UTC()
	clock := func() time.Time { return now }

	roster := &staticRoster{agents: []*store.Agent{
		{ID: "a1", Name: "Dev", LastActiveAt: now.Add(-10 * time.Minute)},
	}}
	c := New(roster, nil, nil, WithClock(clock))

	// A fresh grant counts as gate activity even if directory activity is stale
	require.NoError(t, c.SetMode(ModeSpeakingStick, "a1", EnforcementSuggestion))

	nudges, err := c.NudgeSilent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func TestNudgeThresholdOverride(t *testing.T) {
	now := time.Now().UTC()
	roster := &staticRoster{agents: []*store.Agent{
		{ID: "a1", Name: "Dev", LastActiveAt: now.Add(-2 * time.Minute)},
	}}
	c := New(roster, nil, nil, WithClock(func() time.Time { return now }), WithIdleThreshold(time.Minute))

	nudges, err := c.NudgeSilent(context.Background())
	require.NoError(t, err)
	assert.Len(t, nudges, 1)
}
