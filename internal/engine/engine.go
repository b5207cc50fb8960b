// ABOUTME: Wires the coordination components and exposes the named operations.
// ABOUTME: Every operation boundary validates input and rewraps unexpected failures.

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/moot/internal/directory"
	"github.com/2389/moot/internal/mailbox"
	"github.com/2389/moot/internal/metrics"
	"github.com/2389/moot/internal/notify"
	"github.com/2389/moot/internal/stick"
	"github.com/2389/moot/internal/store"
)

// Engine is one coordination engine instance: directory, mailbox,
// notification bus, and turn-taking gate wired together. Construct one per
// process (or per test) — there is no hidden shared state.
type Engine struct {
	store     store.Store
	directory *directory.Directory
	mailbox   *mailbox.Mailbox
	bus       *notify.Bus
	gate      *stick.Coordinator
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	stickOpts []stick.Option
}

// WithStickOptions forwards options to the turn-taking coordinator.
func WithStickOptions(opts ...stick.Option) Option {
	return func(o *options) {
		o.stickOpts = append(o.stickOpts, opts...)
	}
}

// systemAlerter adapts the mailbox's system broadcast to stick.Alerter.
// Late-bound because the mailbox needs the gate and the gate needs the
// alerter.
type systemAlerter struct {
	mailbox *mailbox.Mailbox
	logger  *slog.Logger
}

func (a *systemAlerter) Alert(ctx context.Context, body string) {
	if a.mailbox == nil {
		return
	}
	if _, err := a.mailbox.SystemBroadcast(ctx, body); err != nil {
		a.logger.Error("social-pressure alert failed", "error", err)
	}
}

// New constructs an Engine on top of st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	bus := notify.NewBus(st, logger)
	dir := directory.New(st, bus, logger)
	alerter := &systemAlerter{logger: logger.With("component", "engine")}
	gate := stick.New(dir, alerter, logger, o.stickOpts...)
	mbx := mailbox.New(st, dir, gate, bus, logger)
	alerter.mailbox = mbx

	return &Engine{
		store:     st,
		directory: dir,
		mailbox:   mbx,
		bus:       bus,
		gate:      gate,
		logger:    logger.With("component", "engine"),
	}
}

// Bus exposes the notification bus so transports can attach live callbacks.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// Gate exposes the turn-taking coordinator.
func (e *Engine) Gate() *stick.Coordinator { return e.gate }

// observe records operation metrics and converts the error at the boundary.
func observe(op string, start time.Time, err error) error {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	err = boundaryError(err)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	return err
}

// RegisterResult is the result of register-agent.
type RegisterResult struct {
	ID string `json:"id"`
}

// RegisterAgent creates a new agent and returns its generated id.
func (e *Engine) RegisterAgent(ctx context.Context, name, description string) (RegisterResult, error) {
	start := time.Now()
	id, err := e.directory.Register(ctx, name, description)
	if err = observe("register-agent", start, err); err != nil {
		return RegisterResult{}, err
	}
	metrics.AgentsRegistered.Inc()
	return RegisterResult{ID: id}, nil
}

// UnregisterAgent removes an agent; unknown ids report {success:false}.
func (e *Engine) UnregisterAgent(ctx context.Context, id string) (directory.UnregisterResult, error) {
	start := time.Now()
	res, err := e.directory.Unregister(ctx, id)
	if err = observe("unregister-agent", start, err); err != nil {
		return directory.UnregisterResult{}, err
	}
	return res, nil
}

// DiscoverAgents lists summaries of all known agents.
func (e *Engine) DiscoverAgents(ctx context.Context) ([]directory.Summary, error) {
	start := time.Now()
	summaries, err := e.directory.Discover(ctx)
	if err = observe("discover-agents", start, err); err != nil {
		return nil, err
	}
	return summaries, nil
}

// UpdateAgentStatus sets an agent's status string.
func (e *Engine) UpdateAgentStatus(ctx context.Context, id, status string) (directory.StatusResult, error) {
	start := time.Now()
	res, err := e.directory.UpdateStatus(ctx, id, status)
	if err = observe("update-agent-status", start, err); err != nil {
		return directory.StatusResult{}, err
	}
	return res, nil
}

// SendMessage delivers a point-to-point message.
func (e *Engine) SendMessage(ctx context.Context, from, to, message string) (mailbox.SendResult, error) {
	start := time.Now()
	res, err := e.mailbox.Send(ctx, from, to, message)
	if err = observe("send-message", start, err); err != nil {
		return mailbox.SendResult{}, err
	}
	metrics.MessagesDelivered.WithLabelValues("direct").Inc()
	return res, nil
}

// InboxMessage is one consumed message as returned by check-for-messages.
type InboxMessage struct {
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckForMessages retrieves and consumes the agent's queued messages.
// Retrieval and deletion are one atomic action: a message returned here is
// permanently removed, a second immediate call returns none, and of two
// concurrent calls one gets the messages and the other an empty list.
func (e *Engine) CheckForMessages(ctx context.Context, agentID string) ([]InboxMessage, error) {
	start := time.Now()
	inbox, err := e.checkForMessages(ctx, agentID)
	if err = observe("check-for-messages", start, err); err != nil {
		return nil, err
	}
	return inbox, nil
}

func (e *Engine) checkForMessages(ctx context.Context, agentID string) ([]InboxMessage, error) {
	messages, err := e.mailbox.Consume(ctx, agentID)
	if err != nil {
		return nil, err
	}

	inbox := make([]InboxMessage, 0, len(messages))
	for _, msg := range messages {
		inbox = append(inbox, InboxMessage{
			From:      msg.From,
			Message:   msg.Body,
			Timestamp: msg.CreatedAt,
		})
	}

	if err := e.directory.TouchActivity(ctx, agentID); err != nil {
		return nil, err
	}
	return inbox, nil
}

// SendBroadcast fans a message out to every other agent, subject to the
// turn-taking gate.
func (e *Engine) SendBroadcast(ctx context.Context, from, message, priority string) (mailbox.BroadcastResult, error) {
	start := time.Now()
	res, err := e.mailbox.Broadcast(ctx, from, message, priority)
	if err = observe("send-broadcast", start, err); err != nil {
		return mailbox.BroadcastResult{}, err
	}
	if res.Success {
		metrics.MessagesDelivered.WithLabelValues("broadcast").Add(float64(res.RecipientCount))
	} else {
		metrics.BroadcastsDenied.Inc()
	}
	return res, nil
}

// SubscribeResult reports a subscription change.
type SubscribeResult struct {
	Success bool `json:"success"`
}

// SubscribeToNotifications registers the agent for the given event
// patterns, replacing any prior subscription. Live callbacks are attached
// by the transport through Bus().
func (e *Engine) SubscribeToNotifications(ctx context.Context, agentID string, events []string) (SubscribeResult, error) {
	start := time.Now()
	err := e.subscribe(ctx, agentID, events)
	if err = observe("subscribe-to-notifications", start, err); err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Success: true}, nil
}

func (e *Engine) subscribe(ctx context.Context, agentID string, events []string) error {
	if _, err := e.directory.Get(ctx, agentID); err != nil {
		return err
	}
	return e.bus.Subscribe(agentID, events, nil)
}

// UnsubscribeFromNotifications removes the named patterns, or the whole
// subscription when no patterns are given.
func (e *Engine) UnsubscribeFromNotifications(ctx context.Context, agentID string, events []string) (SubscribeResult, error) {
	start := time.Now()
	found := e.bus.Unsubscribe(agentID, events...)
	if err := observe("unsubscribe-from-notifications", start, nil); err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Success: found}, nil
}

// GetPendingNotifications drains the agent's pending notification queue.
func (e *Engine) GetPendingNotifications(ctx context.Context, agentID string) ([]*store.Notification, error) {
	start := time.Now()
	pending, err := e.bus.DrainPending(ctx, agentID)
	if err = observe("get-pending-notifications", start, err); err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []*store.Notification{}
	}
	return pending, nil
}

// SetCommunicationMode switches between chaos and speaking-stick.
func (e *Engine) SetCommunicationMode(ctx context.Context, mode, initiator, enforcementLevel string) (stick.Snapshot, error) {
	start := time.Now()
	err := e.gate.SetMode(stick.Mode(mode), initiator, stick.EnforcementLevel(enforcementLevel))
	if err = observe("set-communication-mode", start, err); err != nil {
		return stick.Snapshot{}, err
	}
	return e.gate.Status(), nil
}

// GrantSpeakingStickTo passes the stick from the ruler to the target.
func (e *Engine) GrantSpeakingStickTo(ctx context.Context, granter, target, topic, privilegeLevel string) (stick.GrantResult, error) {
	start := time.Now()
	res := e.gate.GrantTo(granter, target, topic, privilegeLevel)
	if err := observe("grant-speaking-stick-to", start, nil); err != nil {
		return stick.GrantResult{}, err
	}
	return res, nil
}

// ReleaseSpeakingStick returns the stick to the ruler.
func (e *Engine) ReleaseSpeakingStick(ctx context.Context, caller, summary, passTo string) (stick.ReleaseResult, error) {
	start := time.Now()
	res := e.gate.Release(caller, summary, passTo)
	if err := observe("release-speaking-stick", start, nil); err != nil {
		return stick.ReleaseResult{}, err
	}
	return res, nil
}

// TrackSpeakingViolation records a violation and returns its tier.
func (e *Engine) TrackSpeakingViolation(ctx context.Context, agentID, violationType, detail string) (stick.ViolationResult, error) {
	start := time.Now()
	err := func() error {
		if agentID == "" {
			return &ValidationError{Field: "agent id", Reason: "is required"}
		}
		return nil
	}()
	if err = observe("track-speaking-violation", start, err); err != nil {
		return stick.ViolationResult{}, err
	}
	res := e.gate.TrackViolation(ctx, agentID, violationType, detail)
	metrics.ViolationsTracked.WithLabelValues(string(res.Tier)).Inc()
	return res, nil
}

// NudgeSilentAgents suggests nudges for agents idle beyond the threshold.
func (e *Engine) NudgeSilentAgents(ctx context.Context) ([]stick.Nudge, error) {
	start := time.Now()
	nudges, err := e.gate.NudgeSilent(ctx)
	if err = observe("nudge-silent-agents", start, err); err != nil {
		return nil, err
	}
	if nudges == nil {
		nudges = []stick.Nudge{}
	}
	return nudges, nil
}

// GetSpeakingStickStatus returns a snapshot of the turn-taking state.
func (e *Engine) GetSpeakingStickStatus(ctx context.Context) (stick.Snapshot, error) {
	start := time.Now()
	snapshot := e.gate.Status()
	if err := observe("get-speaking-stick-status", start, nil); err != nil {
		return stick.Snapshot{}, err
	}
	return snapshot, nil
}

// ForceResetSpeakingStick restores chaos defaults, for test isolation and
// emergency recovery.
func (e *Engine) ForceResetSpeakingStick(ctx context.Context) (stick.Snapshot, error) {
	start := time.Now()
	e.gate.ForceReset()
	if err := observe("force-reset-speaking-stick", start, nil); err != nil {
		return stick.Snapshot{}, err
	}
	return e.gate.Status(), nil
}

// InjectBroadcast delivers a system-originated broadcast, bypassing the
// gate. Reserved for the privileged injection path; callers must have
// authenticated with the configured API key.
func (e *Engine) InjectBroadcast(ctx context.Context, body string) (int, error) {
	start := time.Now()
	n, err := e.mailbox.SystemBroadcast(ctx, body)
	if err = observe("inject-broadcast", start, err); err != nil {
		return 0, err
	}
	metrics.MessagesDelivered.WithLabelValues("system").Add(float64(n))
	return n, nil
}
