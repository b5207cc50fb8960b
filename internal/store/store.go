// ABOUTME: Store interface and data types for moot persistence
// ABOUTME: Defines Agent, Message, Notification structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrAgentNotFound is returned when a requested agent does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// ErrMessageNotFound is returned when a requested message does not exist.
var ErrMessageNotFound = errors.New("message not found")

// Agent represents a registered participant and its mutable attributes.
type Agent struct {
	ID            string
	Name          string
	Description   string
	Status        string
	RegisteredAt  time.Time
	LastActiveAt  time.Time
	Stats         AgentStats
	Relationships map[string]*Relationship // peer agent id -> relationship
}

// AgentStats tracks per-agent usage counters.
type AgentStats struct {
	MessagesSent     int        `json:"messages_sent"`
	MessagesReceived int        `json:"messages_received"`
	BroadcastsSent   int        `json:"broadcasts_sent"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
}

// Relationship records point-to-point contact history with one peer.
type Relationship struct {
	MessageCount  int       `json:"message_count"`
	LastContactAt time.Time `json:"last_contact_at"`
}

// Message is a single queued point-to-point message. Broadcast fan-out
// creates one independent Message per recipient.
type Message struct {
	ID        string
	From      string
	To        string
	Body      string
	CreatedAt time.Time
}

// Notification is a pending (store-and-forward) notification for one
// subscriber. Draining a subscriber's queue is destructive.
type Notification struct {
	ID        string
	AgentID   string // subscriber the notification is queued for
	Event     string
	Payload   string // JSON-encoded event payload
	CreatedAt time.Time
}

// Store defines the persistence interface for the coordination engine.
// Implementations must be safe for use from multiple goroutines.
type Store interface {
	// Agents
	SaveAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, agentID string) ([]*Message, error)
	CountMessages(ctx context.Context, agentID string) (int, error)
	DeleteMessage(ctx context.Context, id string) error
	DrainMessages(ctx context.Context, agentID string) ([]*Message, error)

	// Pending notifications
	AppendNotification(ctx context.Context, n *Notification) error
	DrainNotifications(ctx context.Context, agentID string) ([]*Notification, error)

	// Close releases any resources held by the store
	Close() error
}
