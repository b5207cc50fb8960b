// ABOUTME: Wildcard pub/sub notification bus with store-and-forward delivery.
// ABOUTME: Publishes structured events to pattern subscribers and buffers for offline ones.

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/moot/internal/metrics"
	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// Event names published by the coordination engine.
const (
	EventAgentRegistered    = "agent/registered"
	EventAgentStatusChanged = "agent/status_changed"
	EventAgentUnregistered  = "agent/unregistered"
	EventMessageDelivered   = "message/delivered"
	EventMessageBroadcast   = "message/broadcast"
	EventQueuePressure      = "queue/pressure"
)

// Event is a structured notification delivered to subscribers.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Callback receives events for a live subscriber. Callbacks are invoked
// synchronously from Publish and must not block.
type Callback func(evt *Event)

// subscription is one agent's pattern set and optional live callback.
type subscription struct {
	agentID  string
	patterns []string
	callback Callback
}

// Bus is the notification hub. An agent has at most one subscription record;
// re-subscribing replaces it. Every publish appends to each matching
// subscriber's durable pending queue exactly once, whether or not a live
// callback is attached; draining the queue is destructive.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	store  store.Store
	logger *slog.Logger
}

// NewBus creates a notification bus persisting pending queues in st.
// Pass nil logger for default.
func NewBus(st store.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscription),
		store:  st,
		logger: logger.With("component", "notify"),
	}
}

// Subscribe registers the agent for the given event patterns, replacing any
// prior subscription. The old record is fully detached before the new one is
// attached, so overlapping pattern sets never cause duplicate delivery.
// A pattern is an exact event name or a "prefix/*" wildcard.
func (b *Bus) Subscribe(agentID string, patterns []string, cb Callback) error {
	if err := validate.Required("agent id", agentID); err != nil {
		return err
	}
	if len(patterns) == 0 {
		return &validate.Error{Field: "events", Reason: "at least one pattern is required"}
	}
	for _, p := range patterns {
		if p == "" {
			return &validate.Error{Field: "events", Reason: "patterns must be non-empty"}
		}
	}

	b.mu.Lock()
	delete(b.subs, agentID)
	b.subs[agentID] = &subscription{
		agentID:  agentID,
		patterns: append([]string(nil), patterns...),
		callback: cb,
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber registered", "agent_id", agentID, "patterns", patterns)
	return nil
}

// Unsubscribe removes patterns from an agent's subscription. With no
// patterns given it removes the whole subscription. Removing the last
// pattern deletes the subscription. Returns false if the agent had no
// subscription.
func (b *Bus) Unsubscribe(agentID string, patterns ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[agentID]
	if !ok {
		return false
	}

	if len(patterns) == 0 {
		delete(b.subs, agentID)
		b.logger.Debug("subscriber removed", "agent_id", agentID)
		return true
	}

	drop := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		drop[p] = true
	}

	remaining := sub.patterns[:0]
	for _, p := range sub.patterns {
		if !drop[p] {
			remaining = append(remaining, p)
		}
	}
	sub.patterns = remaining

	if len(sub.patterns) == 0 {
		delete(b.subs, agentID)
		b.logger.Debug("subscriber removed", "agent_id", agentID)
	}
	return true
}

// Subscribed reports whether the agent currently has a subscription.
func (b *Bus) Subscribed(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[agentID]
	return ok
}

// Publish delivers an event to every subscriber whose pattern set matches,
// exactly once per subscriber even when overlapping patterns match: the
// subscriber set is computed from whole subscription records, so a
// subscriber appears in it once no matter how many of its patterns match.
// The event is also appended to each matching subscriber's pending queue,
// so disconnected subscribers can catch up via DrainPending.
func (b *Bus) Publish(ctx context.Context, name string, payload map[string]any) {
	evt := &Event{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	metrics.NotificationsPublished.WithLabelValues(name).Inc()

	// Phase 1: compute the matching subscriber set under the read lock.
	type target struct {
		agentID  string
		callback Callback
	}
	b.mu.RLock()
	targets := make([]target, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchesAny(sub.patterns, name) {
			targets = append(targets, target{agentID: sub.agentID, callback: sub.callback})
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	payloadJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		b.logger.Error("encoding event payload", "event", name, "error", err)
		payloadJSON = []byte("{}")
	}

	// Phase 2: live delivery plus one durable append per subscriber.
	for _, tgt := range targets {
		if tgt.callback != nil {
			tgt.callback(evt)
		}

		if err := b.store.AppendNotification(ctx, &store.Notification{
			ID:        uuid.New().String(),
			AgentID:   tgt.agentID,
			Event:     evt.Name,
			Payload:   string(payloadJSON),
			CreatedAt: evt.Timestamp,
		}); err != nil {
			b.logger.Error("appending pending notification",
				"agent_id", tgt.agentID,
				"event", name,
				"error", err)
		}
	}

	b.logger.Debug("published event", "event", name, "subscribers", len(targets))
}

// DrainPending atomically returns and clears the agent's pending queue.
// A second immediate call returns an empty list.
func (b *Bus) DrainPending(ctx context.Context, agentID string) ([]*store.Notification, error) {
	return b.store.DrainNotifications(ctx, agentID)
}

// matchesAny reports whether any pattern matches the event name.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matches(p, name) {
			return true
		}
	}
	return false
}

// matches reports whether a single pattern matches an event name. A pattern
// is an exact name or a "prefix/*" wildcard matching any name sharing the
// prefix.
func matches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(name, prefix+"/")
	}
	return false
}
