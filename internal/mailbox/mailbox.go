// ABOUTME: Per-agent message queues with point-to-point delivery and broadcast fan-out.
// ABOUTME: Broadcast access is gated by the turn-taking coordinator.

package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/moot/internal/notify"
	"github.com/2389/moot/internal/stick"
	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// MaxBodyLen caps message bodies.
const MaxBodyLen = 10000

// QueuePressureThreshold is the queued-message count at which a
// queue/pressure event is published for a recipient.
const QueuePressureThreshold = 50

// SystemSender identifies system-originated messages that bypass the gate.
const SystemSender = "system"

// Roster is the directory surface the mailbox needs. Satisfied by
// *directory.Directory.
type Roster interface {
	Get(ctx context.Context, id string) (*store.Agent, error)
	ListAgents(ctx context.Context) ([]*store.Agent, error)
	RecordDelivery(ctx context.Context, from, to string) error
	RecordBroadcast(ctx context.Context, from string, recipients []string) error
}

// Gate decides whether a sender may broadcast and records rule violations.
// Satisfied by *stick.Coordinator.
type Gate interface {
	MayBroadcast(agentID string) bool
	Holder() string
	Mode() stick.Mode
	TrackViolation(ctx context.Context, agentID, violationType, detail string) stick.ViolationResult
}

// Publisher receives mailbox events. Satisfied by *notify.Bus.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

// Mailbox owns the per-agent message queues.
type Mailbox struct {
	store  store.Store
	roster Roster
	gate   Gate
	bus    Publisher
	logger *slog.Logger
}

// New creates a Mailbox.
func New(st store.Store, roster Roster, gate Gate, bus Publisher, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		store:  st,
		roster: roster,
		gate:   gate,
		bus:    bus,
		logger: logger.With("component", "mailbox"),
	}
}

// SendResult reports a successful point-to-point delivery.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
}

// BroadcastResult reports the outcome of a broadcast attempt.
type BroadcastResult struct {
	Success        bool   `json:"success"`
	RecipientCount int    `json:"recipient_count"`
	Error          string `json:"error,omitempty"`
}

// Send stores one message from one agent to another. Both agents must
// exist; an unknown sender or recipient is a hard error and nothing is
// written.
func (m *Mailbox) Send(ctx context.Context, from, to, body string) (SendResult, error) {
	if err := validate.Required("sender id", from); err != nil {
		return SendResult{}, err
	}
	if err := validate.Required("recipient id", to); err != nil {
		return SendResult{}, err
	}
	if err := validate.RequiredMax("message", body, MaxBodyLen); err != nil {
		return SendResult{}, err
	}

	if _, err := m.roster.Get(ctx, from); err != nil {
		return SendResult{}, fmt.Errorf("sender %s: %w", from, err)
	}
	if _, err := m.roster.Get(ctx, to); err != nil {
		return SendResult{}, fmt.Errorf("recipient %s: %w", to, err)
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("storing message: %w", err)
	}
	if err := m.roster.RecordDelivery(ctx, from, to); err != nil {
		return SendResult{}, fmt.Errorf("recording delivery: %w", err)
	}

	m.logger.Info("message sent", "message_id", msg.ID, "from", from, "to", to)
	m.bus.Publish(ctx, notify.EventMessageDelivered, map[string]any{
		"message_id": msg.ID,
		"from":       from,
		"to":         to,
	})
	m.checkPressure(ctx, to)

	return SendResult{Success: true, MessageID: msg.ID}, nil
}

// Messages returns all currently queued messages for an agent, oldest
// first. Retrieval is non-destructive; Consume is the destructive path.
func (m *Mailbox) Messages(ctx context.Context, agentID string) ([]*store.Message, error) {
	if err := validate.Required("agent id", agentID); err != nil {
		return nil, err
	}
	if _, err := m.roster.Get(ctx, agentID); err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}
	return m.store.ListMessages(ctx, agentID)
}

// DeleteMessage removes a single message from its recipient's queue.
func (m *Mailbox) DeleteMessage(ctx context.Context, id string) error {
	return m.store.DeleteMessage(ctx, id)
}

// Consume atomically retrieves and removes all queued messages for an
// agent, oldest first. The single-delivery guarantee holds under
// concurrency: of two simultaneous consumers, one gets the messages and
// the other gets an empty list.
func (m *Mailbox) Consume(ctx context.Context, agentID string) ([]*store.Message, error) {
	if err := validate.Required("agent id", agentID); err != nil {
		return nil, err
	}
	if _, err := m.roster.Get(ctx, agentID); err != nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, err)
	}
	return m.store.DrainMessages(ctx, agentID)
}

// Broadcast fans a message out to every known agent except the sender.
// The turn-taking gate is consulted first: a denial records a violation,
// delivers nothing, and is reported as a structured result rather than an
// error.
func (m *Mailbox) Broadcast(ctx context.Context, from, body, priority string) (BroadcastResult, error) {
	if err := validate.Required("sender id", from); err != nil {
		return BroadcastResult{}, err
	}
	if err := validate.RequiredMax("message", body, MaxBodyLen); err != nil {
		return BroadcastResult{}, err
	}
	if _, err := m.roster.Get(ctx, from); err != nil {
		return BroadcastResult{}, fmt.Errorf("sender %s: %w", from, err)
	}

	if !m.gate.MayBroadcast(from) {
		holder := m.gate.Holder()
		m.gate.TrackViolation(ctx, from, "broadcast_denied",
			fmt.Sprintf("attempted broadcast while %s held the stick", holder))
		m.logger.Warn("broadcast denied", "from", from, "holder", holder)
		return BroadcastResult{
			Success:        false,
			RecipientCount: 0,
			Error:          fmt.Sprintf("speaking stick required: current holder is %s", holder),
		}, nil
	}

	recipients, err := m.fanOut(ctx, from, tagBody(body, priority))
	if err != nil {
		return BroadcastResult{}, err
	}

	if err := m.roster.RecordBroadcast(ctx, from, recipients); err != nil {
		return BroadcastResult{}, fmt.Errorf("recording broadcast: %w", err)
	}

	m.logger.Info("broadcast delivered", "from", from, "recipients", len(recipients), "priority", priority)
	m.bus.Publish(ctx, notify.EventMessageBroadcast, map[string]any{
		"from":            from,
		"recipient_count": len(recipients),
		"priority":        priority,
	})
	return BroadcastResult{Success: true, RecipientCount: len(recipients)}, nil
}

// SystemBroadcast delivers a system-originated message to every known
// agent, bypassing the gate. Used for social-pressure enforcement alerts.
func (m *Mailbox) SystemBroadcast(ctx context.Context, body string) (int, error) {
	if err := validate.RequiredMax("message", body, MaxBodyLen); err != nil {
		return 0, err
	}

	recipients, err := m.fanOut(ctx, SystemSender, "[SYSTEM] "+body)
	if err != nil {
		return 0, err
	}

	m.bus.Publish(ctx, notify.EventMessageBroadcast, map[string]any{
		"from":            SystemSender,
		"recipient_count": len(recipients),
		"priority":        "system",
	})
	return len(recipients), nil
}

// fanOut writes one independent message per known agent except the sender
// and publishes one delivery event each. Returns the recipient ids.
func (m *Mailbox) fanOut(ctx context.Context, from, body string) ([]string, error) {
	agents, err := m.roster.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	now := time.Now().UTC()
	var recipients []string
	for _, agent := range agents {
		if agent.ID == from {
			continue
		}
		msg := &store.Message{
			ID:        uuid.New().String(),
			From:      from,
			To:        agent.ID,
			Body:      body,
			CreatedAt: now,
		}
		if err := m.store.SaveMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("storing broadcast message for %s: %w", agent.ID, err)
		}
		recipients = append(recipients, agent.ID)
		m.bus.Publish(ctx, notify.EventMessageDelivered, map[string]any{
			"message_id": msg.ID,
			"from":       from,
			"to":         agent.ID,
			"broadcast":  true,
		})
		m.checkPressure(ctx, agent.ID)
	}
	return recipients, nil
}

// checkPressure publishes a queue/pressure event when a recipient's queue
// crosses the threshold.
func (m *Mailbox) checkPressure(ctx context.Context, agentID string) {
	count, err := m.store.CountMessages(ctx, agentID)
	if err != nil {
		m.logger.Error("counting queued messages", "agent_id", agentID, "error", err)
		return
	}
	if count >= QueuePressureThreshold {
		m.bus.Publish(ctx, notify.EventQueuePressure, map[string]any{
			"agent_id": agentID,
			"queued":   count,
		})
	}
}

// tagBody prefixes the body with a priority marker for non-normal
// priorities.
func tagBody(body, priority string) string {
	if priority == "" || strings.EqualFold(priority, "normal") {
		return body
	}
	return "[" + strings.ToUpper(priority) + "] " + body
}
