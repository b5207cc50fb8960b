// ABOUTME: Manages the registry of known agents and their mutable attributes.
// ABOUTME: The only safe mutation path; serializes writers through a FIFO lock.

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/moot/internal/notify"
	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = store.ErrAgentNotFound

// Field limits for agent attributes.
const (
	MaxNameLen        = 100
	MaxDescriptionLen = 500
	MaxStatusLen      = 100
)

// DefaultStatus is assigned to newly registered agents.
const DefaultStatus = "just joined"

// Publisher receives directory lifecycle events. Satisfied by *notify.Bus.
type Publisher interface {
	Publish(ctx context.Context, event string, payload map[string]any)
}

// Directory owns the set of known agents. All mutating operations acquire
// an exclusive strict-FIFO lock around a read/mutate/write persistence
// cycle, so concurrent mutations serialize and none are lost.
type Directory struct {
	store  store.Store
	bus    Publisher
	lock   fifoLock
	logger *slog.Logger
}

// New creates a Directory backed by st, publishing lifecycle events to bus.
func New(st store.Store, bus Publisher, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:  st,
		bus:    bus,
		logger: logger.With("component", "directory"),
	}
}

// Summary is the public view of an agent returned by Discover.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// UnregisterResult reports whether an unregistration removed an agent.
type UnregisterResult struct {
	Success bool `json:"success"`
}

// StatusResult reports the outcome of a status update.
type StatusResult struct {
	Success  bool   `json:"success"`
	Previous string `json:"previous,omitempty"`
	New      string `json:"new,omitempty"`
}

// Register creates a new agent record and returns its generated id.
// Validation failures are reported before the lock is acquired.
func (d *Directory) Register(ctx context.Context, name, description string) (string, error) {
	if err := validate.RequiredMax("name", name, MaxNameLen); err != nil {
		return "", err
	}
	if err := validate.RequiredMax("description", description, MaxDescriptionLen); err != nil {
		return "", err
	}

	if err := d.lock.Acquire(ctx); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		Status:        DefaultStatus,
		RegisteredAt:  now,
		LastActiveAt:  now,
		Relationships: map[string]*store.Relationship{},
	}
	err := d.store.SaveAgent(ctx, agent)
	d.lock.Release()
	if err != nil {
		return "", fmt.Errorf("registering agent: %w", err)
	}

	d.logger.Info("agent registered", "agent_id", agent.ID, "name", name)
	d.bus.Publish(ctx, notify.EventAgentRegistered, map[string]any{
		"agent_id": agent.ID,
		"name":     name,
		"status":   agent.Status,
	})
	return agent.ID, nil
}

// Unregister removes an agent. Unknown ids report {Success:false} rather
// than an error, and no event is emitted.
func (d *Directory) Unregister(ctx context.Context, id string) (UnregisterResult, error) {
	if err := validate.Required("agent id", id); err != nil {
		return UnregisterResult{}, err
	}

	if err := d.lock.Acquire(ctx); err != nil {
		return UnregisterResult{}, err
	}

	agent, err := d.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrAgentNotFound) {
		d.lock.Release()
		return UnregisterResult{Success: false}, nil
	}
	if err != nil {
		d.lock.Release()
		return UnregisterResult{}, fmt.Errorf("loading agent: %w", err)
	}

	err = d.store.DeleteAgent(ctx, id)
	d.lock.Release()
	if err != nil {
		return UnregisterResult{}, fmt.Errorf("unregistering agent: %w", err)
	}

	d.logger.Info("agent unregistered", "agent_id", id, "name", agent.Name)
	d.bus.Publish(ctx, notify.EventAgentUnregistered, map[string]any{
		"agent_id": id,
		"name":     agent.Name,
	})
	return UnregisterResult{Success: true}, nil
}

// Discover returns summaries of all known agents.
func (d *Directory) Discover(ctx context.Context) ([]Summary, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	summaries := make([]Summary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, Summary{
			ID:           a.ID,
			Name:         a.Name,
			Description:  a.Description,
			Status:       a.Status,
			RegisteredAt: a.RegisteredAt,
			LastActiveAt: a.LastActiveAt,
		})
	}
	return summaries, nil
}

// Get retrieves a full agent record. Returns ErrAgentNotFound for unknown ids.
func (d *Directory) Get(ctx context.Context, id string) (*store.Agent, error) {
	return d.store.GetAgent(ctx, id)
}

// ListAgents returns all full agent records. Used by the mailbox for
// broadcast fan-out and by the turn-taking gate for idleness scans.
func (d *Directory) ListAgents(ctx context.Context) ([]*store.Agent, error) {
	return d.store.ListAgents(ctx)
}

// ListByStatus returns all agents currently carrying the given status.
func (d *Directory) ListByStatus(ctx context.Context, status string) ([]*store.Agent, error) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	var matched []*store.Agent
	for _, a := range agents {
		if a.Status == status {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// UpdateStatus sets an agent's status, refreshing its last-activity stamp.
// Unknown ids report {Success:false}. The status-changed event is emitted
// only when the value actually changes.
func (d *Directory) UpdateStatus(ctx context.Context, id, status string) (StatusResult, error) {
	if err := validate.Required("agent id", id); err != nil {
		return StatusResult{}, err
	}
	if err := validate.RequiredMax("status", status, MaxStatusLen); err != nil {
		return StatusResult{}, err
	}

	if err := d.lock.Acquire(ctx); err != nil {
		return StatusResult{}, err
	}

	agent, err := d.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrAgentNotFound) {
		d.lock.Release()
		return StatusResult{Success: false}, nil
	}
	if err != nil {
		d.lock.Release()
		return StatusResult{}, fmt.Errorf("loading agent: %w", err)
	}

	previous := agent.Status
	agent.Status = status
	agent.LastActiveAt = time.Now().UTC()
	err = d.store.SaveAgent(ctx, agent)
	d.lock.Release()
	if err != nil {
		return StatusResult{}, fmt.Errorf("updating status: %w", err)
	}

	if previous != status {
		d.bus.Publish(ctx, notify.EventAgentStatusChanged, map[string]any{
			"agent_id": id,
			"previous": previous,
			"new":      status,
		})
	}
	return StatusResult{Success: true, Previous: previous, New: status}, nil
}

// TouchActivity refreshes an agent's last-activity timestamp.
func (d *Directory) TouchActivity(ctx context.Context, id string) error {
	if err := d.lock.Acquire(ctx); err != nil {
		return err
	}
	defer d.lock.Release()

	agent, err := d.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}

	agent.LastActiveAt = time.Now().UTC()
	if err := d.store.SaveAgent(ctx, agent); err != nil {
		return fmt.Errorf("touching activity: %w", err)
	}
	return nil
}

// RecordDelivery updates usage statistics and the relationship maps of both
// parties after a point-to-point delivery.
func (d *Directory) RecordDelivery(ctx context.Context, from, to string) error {
	if err := d.lock.Acquire(ctx); err != nil {
		return err
	}
	defer d.lock.Release()

	now := time.Now().UTC()

	sender, err := d.store.GetAgent(ctx, from)
	if err != nil {
		return err
	}
	recipient, err := d.store.GetAgent(ctx, to)
	if err != nil {
		return err
	}

	sender.Stats.MessagesSent++
	sender.Stats.LastMessageAt = &now
	sender.LastActiveAt = now
	touchRelationship(sender, to, now)

	recipient.Stats.MessagesReceived++
	touchRelationship(recipient, from, now)

	if err := d.store.SaveAgent(ctx, sender); err != nil {
		return fmt.Errorf("recording delivery for sender: %w", err)
	}
	if err := d.store.SaveAgent(ctx, recipient); err != nil {
		return fmt.Errorf("recording delivery for recipient: %w", err)
	}
	return nil
}

// RecordBroadcast updates usage statistics after a broadcast fan-out.
func (d *Directory) RecordBroadcast(ctx context.Context, from string, recipients []string) error {
	if err := d.lock.Acquire(ctx); err != nil {
		return err
	}
	defer d.lock.Release()

	now := time.Now().UTC()

	sender, err := d.store.GetAgent(ctx, from)
	if err != nil {
		return err
	}
	sender.Stats.BroadcastsSent++
	sender.Stats.LastMessageAt = &now
	sender.LastActiveAt = now
	if err := d.store.SaveAgent(ctx, sender); err != nil {
		return fmt.Errorf("recording broadcast for sender: %w", err)
	}

	for _, id := range recipients {
		recipient, err := d.store.GetAgent(ctx, id)
		if err != nil {
			return err
		}
		recipient.Stats.MessagesReceived++
		if err := d.store.SaveAgent(ctx, recipient); err != nil {
			return fmt.Errorf("recording broadcast for recipient: %w", err)
		}
	}
	return nil
}

// touchRelationship bumps the contact history with one peer.
func touchRelationship(agent *store.Agent, peer string, now time.Time) {
	if agent.Relationships == nil {
		agent.Relationships = map[string]*store.Relationship{}
	}
	rel, ok := agent.Relationships[peer]
	if !ok {
		rel = &store.Relationship{}
		agent.Relationships[peer] = rel
	}
	rel.MessageCount++
	rel.LastContactAt = now
}
