// ABOUTME: Turn-taking state machine gating broadcast access ("speaking stick").
// ABOUTME: Tracks rule violations with escalating tiers and nudges silent agents.

package stick

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// Mode is the turn-taking mode.
type Mode string

const (
	// ModeChaos imposes no restriction; anyone may broadcast.
	ModeChaos Mode = "chaos"
	// ModeSpeakingStick restricts broadcast to the current holder.
	ModeSpeakingStick Mode = "speaking-stick"
)

// EnforcementLevel controls how strongly violations are surfaced.
type EnforcementLevel string

const (
	EnforcementSuggestion         EnforcementLevel = "suggestion"
	EnforcementPromptModification EnforcementLevel = "prompt-modification"
	EnforcementSocialPressure     EnforcementLevel = "social-pressure"
)

// Tier is the escalation tier of a violation count.
type Tier string

const (
	TierMild     Tier = "mild"     // counts 1-2
	TierModerate Tier = "moderate" // counts 3-5
	TierShame    Tier = "shame"    // counts 6+
)

// DefaultIdleThreshold flags agents silent beyond this duration.
const DefaultIdleThreshold = 5 * time.Minute

// AgentLister provides the known agents and their last-activity timestamps.
// Satisfied by *directory.Directory.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]*store.Agent, error)
}

// Alerter delivers a system-originated group alert, bypassing the gate.
// Used for social-pressure enforcement.
type Alerter interface {
	Alert(ctx context.Context, body string)
}

// Coordinator is the turn-taking gate. Construct one per engine instance
// and pass it by handle; it is never a package singleton, so independent
// engines (e.g. in tests) cannot corrupt each other's state.
type Coordinator struct {
	mu            sync.Mutex
	mode          Mode
	ruler         string
	holder        string
	queue         []string // legacy self-service wait queue, unused by the ruler-based flow
	violations    map[string]int
	lastSeen      map[string]time.Time
	level         EnforcementLevel
	idleThreshold time.Duration

	roster  AgentLister
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIdleThreshold overrides the silence threshold used by NudgeSilent.
func WithIdleThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.idleThreshold = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator in chaos mode.
func New(roster AgentLister, alerter Alerter, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		mode:          ModeChaos,
		violations:    make(map[string]int),
		lastSeen:      make(map[string]time.Time),
		level:         EnforcementSuggestion,
		idleThreshold: DefaultIdleThreshold,
		roster:        roster,
		alerter:       alerter,
		logger:        logger.With("component", "stick"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GrantResult reports the outcome of a grant attempt.
type GrantResult struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error,omitempty"`
	Holder  string `json:"holder,omitempty"`
}

// ReleaseResult reports the outcome of a release attempt.
type ReleaseResult struct {
	Released bool   `json:"released"`
	Error    string `json:"error,omitempty"`
	Holder   string `json:"holder,omitempty"`
}

// ViolationResult reports a recorded violation and its escalation tier.
type ViolationResult struct {
	AgentID      string `json:"agent_id"`
	Count        int    `json:"count"`
	Tier         Tier   `json:"tier"`
	Advisory     string `json:"advisory"`
	Deprioritize bool   `json:"deprioritize"` // moderate+: flagged for queue deprioritization
	Timeout      bool   `json:"timeout"`      // shame: flagged for timeout
}

// Nudge is a suggested message for one idle agent.
type Nudge struct {
	AgentID    string        `json:"agent_id"`
	Name       string        `json:"name"`
	Role       string        `json:"role"` // "holder", "queued", or "silent"
	IdleFor    time.Duration `json:"idle_for"`
	Suggestion string        `json:"suggestion"`
}

// Snapshot is a point-in-time view of the turn-taking state.
type Snapshot struct {
	Mode             Mode             `json:"mode"`
	Ruler            string           `json:"ruler,omitempty"`
	Holder           string           `json:"holder,omitempty"`
	Queue            []string         `json:"queue,omitempty"`
	EnforcementLevel EnforcementLevel `json:"enforcement_level"`
	Violations       map[string]int   `json:"violations,omitempty"`
}

// SetMode switches the turn-taking mode. Entering speaking-stick makes the
// initiator both ruler and holder and clears the wait queue; entering chaos
// clears ruler, holder, and queue.
func (c *Coordinator) SetMode(mode Mode, initiator string, level EnforcementLevel) error {
	switch mode {
	case ModeChaos, ModeSpeakingStick:
	default:
		return &validate.Error{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if mode == ModeSpeakingStick {
		if err := validate.Required("initiator", initiator); err != nil {
			return err
		}
	}
	if level == "" {
		level = EnforcementSuggestion
	}
	switch level {
	case EnforcementSuggestion, EnforcementPromptModification, EnforcementSocialPressure:
	default:
		return &validate.Error{Field: "enforcement level", Reason: fmt.Sprintf("unknown level %q", level)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.level = level
	c.queue = nil
	if mode == ModeSpeakingStick {
		c.mode = ModeSpeakingStick
		c.ruler = initiator
		c.holder = initiator
		c.lastSeen[initiator] = c.now()
	} else {
		c.mode = ModeChaos
		c.ruler = ""
		c.holder = ""
	}

	c.logger.Info("communication mode changed",
		"mode", mode,
		"ruler", c.ruler,
		"enforcement_level", level,
	)
	return nil
}

// GrantTo passes the stick from the ruler to target. Only the ruler may
// grant; denials are structured results and mutate nothing.
func (c *Coordinator) GrantTo(granter, target, topic, privilegeLevel string) GrantResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeSpeakingStick {
		return GrantResult{Granted: false, Error: "wrong_mode", Holder: c.holder}
	}
	if granter != c.ruler {
		return GrantResult{Granted: false, Error: "not_ruler", Holder: c.holder}
	}
	if target == "" {
		return GrantResult{Granted: false, Error: "no_target", Holder: c.holder}
	}

	c.holder = target
	now := c.now()
	c.lastSeen[granter] = now
	c.lastSeen[target] = now

	c.logger.Info("speaking stick granted",
		"granter", granter,
		"holder", target,
		"topic", topic,
		"privilege_level", privilegeLevel,
	)
	return GrantResult{Granted: true, Holder: target}
}

// Release returns the stick to the ruler. Only the current holder may
// release. The passTo hint is recorded for the ruler but control always
// returns to the ruler in the canonical flow.
func (c *Coordinator) Release(caller, summary, passTo string) ReleaseResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeSpeakingStick {
		return ReleaseResult{Released: false, Error: "wrong_mode", Holder: c.holder}
	}
	if caller != c.holder {
		return ReleaseResult{Released: false, Error: "not_holder", Holder: c.holder}
	}

	c.holder = c.ruler
	c.lastSeen[caller] = c.now()

	c.logger.Info("speaking stick released",
		"caller", caller,
		"holder", c.holder,
		"summary", summary,
		"pass_to_hint", passTo,
	)
	return ReleaseResult{Released: true, Holder: c.holder}
}

// MayBroadcast reports whether the agent may broadcast right now: always in
// chaos mode, otherwise only for the current holder.
func (c *Coordinator) MayBroadcast(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeChaos {
		return true
	}
	return agentID == c.holder
}

// Holder returns the agent currently permitted to broadcast, or empty.
func (c *Coordinator) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// Mode returns the current turn-taking mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// TrackViolation increments the agent's violation counter and returns the
// escalation tier. Under social-pressure enforcement the violation is also
// surfaced to the whole group through the alerter, bypassing the gate.
func (c *Coordinator) TrackViolation(ctx context.Context, agentID, violationType, detail string) ViolationResult {
	c.mu.Lock()
	c.violations[agentID]++
	count := c.violations[agentID]
	c.lastSeen[agentID] = c.now()
	level := c.level
	c.mu.Unlock()

	result := ViolationResult{
		AgentID: agentID,
		Count:   count,
	}
	switch {
	case count <= 2:
		result.Tier = TierMild
		result.Advisory = "Gentle reminder: wait for the speaking stick before broadcasting."
	case count <= 5:
		result.Tier = TierModerate
		result.Advisory = "You have repeatedly spoken out of turn. Further violations will push you back in the queue."
		result.Deprioritize = true
	default:
		result.Tier = TierShame
		result.Advisory = "Hall of shame: persistent speaking-stick violations. A timeout is warranted."
		result.Deprioritize = true
		result.Timeout = true
	}

	c.logger.Warn("speaking violation tracked",
		"agent_id", agentID,
		"type", violationType,
		"count", count,
		"tier", result.Tier,
	)

	if level == EnforcementSocialPressure && c.alerter != nil {
		body := fmt.Sprintf("Speaking-stick violation by %s (#%d, %s): %s",
			agentID, count, violationType, result.Advisory)
		if detail != "" {
			body += " Context: " + detail
		}
		c.alerter.Alert(ctx, body)
	}

	return result
}

// ViolationCount returns the agent's current violation count.
func (c *Coordinator) ViolationCount(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations[agentID]
}

// NudgeSilent scans all known agents and suggests a nudge for each one idle
// beyond the threshold. The suggestion depends on whether the agent holds
// the stick, waits in the queue, or is merely silent.
func (c *Coordinator) NudgeSilent(ctx context.Context) ([]Nudge, error) {
	agents, err := c.roster.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	c.mu.Lock()
	holder := c.holder
	queued := make(map[string]bool, len(c.queue))
	for _, id := range c.queue {
		queued[id] = true
	}
	lastSeen := make(map[string]time.Time, len(c.lastSeen))
	for id, ts := range c.lastSeen {
		lastSeen[id] = ts
	}
	c.mu.Unlock()

	now := c.now()
	var nudges []Nudge
	for _, agent := range agents {
		last := agent.LastActiveAt
		if gateLast, ok := lastSeen[agent.ID]; ok && gateLast.After(last) {
			last = gateLast
		}
		idle := now.Sub(last)
		if idle < c.idleThreshold {
			continue
		}

		nudge := Nudge{
			AgentID: agent.ID,
			Name:    agent.Name,
			IdleFor: idle,
		}
		switch {
		case agent.ID == holder:
			nudge.Role = "holder"
			nudge.Suggestion = fmt.Sprintf(
				"%s, you hold the speaking stick but have been silent for %s. Share an update or release it.",
				agent.Name, idle.Round(time.Second))
		case queued[agent.ID]:
			nudge.Role = "queued"
			nudge.Suggestion = fmt.Sprintf(
				"%s, you are waiting for the stick. Stay ready; use the time to prepare your update.",
				agent.Name)
		default:
			nudge.Role = "silent"
			nudge.Suggestion = fmt.Sprintf(
				"%s has been quiet for %s. Check in with a status update.",
				agent.Name, idle.Round(time.Second))
		}
		nudges = append(nudges, nudge)
	}

	return nudges, nil
}

// Status returns a snapshot of the current turn-taking state.
func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	violations := make(map[string]int, len(c.violations))
	for id, n := range c.violations {
		violations[id] = n
	}
	return Snapshot{
		Mode:             c.mode,
		Ruler:            c.ruler,
		Holder:           c.holder,
		Queue:            append([]string(nil), c.queue...),
		EnforcementLevel: c.level,
		Violations:       violations,
	}
}

// ForceReset restores chaos defaults: no ruler, no holder, empty queue,
// cleared violation counters. Intended for test isolation and emergency
// recovery.
func (c *Coordinator) ForceReset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = ModeChaos
	c.ruler = ""
	c.holder = ""
	c.queue = nil
	c.violations = make(map[string]int)
	c.lastSeen = make(map[string]time.Time)
	c.level = EnforcementSuggestion

	c.logger.Info("turn-taking state force-reset to chaos defaults")
}
