// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/message/notification persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Writers wait for the lock instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			description        TEXT NOT NULL,
			status             TEXT NOT NULL,
			registered_at      TEXT NOT NULL,
			last_active_at     TEXT NOT NULL,
			stats_json         TEXT NOT NULL DEFAULT '{}',
			relationships_json TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_to_agent
			ON messages(to_agent, created_at);

		CREATE TABLE IF NOT EXISTS pending_notifications (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			event      TEXT NOT NULL,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_agent
			ON pending_notifications(agent_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveAgent inserts or replaces an agent record. Callers serialize writes
// through the directory's FIFO lock; the store itself does not order them.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *Agent) error {
	statsJSON, err := json.Marshal(agent.Stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	rels := agent.Relationships
	if rels == nil {
		rels = map[string]*Relationship{}
	}
	relsJSON, err := json.Marshal(rels)
	if err != nil {
		return fmt.Errorf("encoding relationships: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO agents (
			id, name, description, status, registered_at, last_active_at,
			stats_json, relationships_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Description,
		agent.Status,
		agent.RegisteredAt.UTC().Format(time.RFC3339Nano),
		agent.LastActiveAt.UTC().Format(time.RFC3339Nano),
		string(statsJSON),
		string(relsJSON),
	)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	s.logger.Debug("saved agent", "agent_id", agent.ID, "status", agent.Status)
	return nil
}

// GetAgent retrieves a single agent by ID. Returns ErrAgentNotFound if the
// agent does not exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `
		SELECT id, name, description, status, registered_at, last_active_at,
		       stats_json, relationships_json
		FROM agents
		WHERE id = ?
	`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all registered agents ordered by registration time.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `
		SELECT id, name, description, status, registered_at, last_active_at,
		       stats_json, relationships_json
		FROM agents
		ORDER BY registered_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// DeleteAgent removes an agent record. Returns ErrAgentNotFound if no row
// was deleted.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAgentNotFound
	}

	s.logger.Debug("deleted agent", "agent_id", id)
	return nil
}

// SaveMessage stores one message keyed by recipient.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, from_agent, to_agent, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.From,
		msg.To,
		msg.Body,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "message_id", msg.ID, "from", msg.From, "to", msg.To)
	return nil
}

// ListMessages returns all currently queued messages for an agent, oldest
// first. Retrieval is non-destructive; callers delete consumed messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, agentID string) ([]*Message, error) {
	query := `
		SELECT id, from_agent, to_agent, body, created_at
		FROM messages
		WHERE to_agent = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of queued messages for an agent.
func (s *SQLiteStore) CountMessages(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE to_agent = ?`, agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// DeleteMessage removes a single message by ID. Returns ErrMessageNotFound
// if no row was deleted.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DrainMessages atomically returns and clears an agent's message queue,
// oldest first. Concurrent drains for the same agent split nothing: one
// sees the messages, the other sees an empty queue.
func (s *SQLiteStore) DrainMessages(ctx context.Context, agentID string) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning drain transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, from_agent, to_agent, body, created_at
		FROM messages
		WHERE to_agent = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := tx.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE to_agent = ?`, agentID); err != nil {
		return nil, fmt.Errorf("clearing messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain: %w", err)
	}

	s.logger.Debug("drained messages", "agent_id", agentID, "count", len(messages))
	return messages, nil
}

// AppendNotification appends a notification to one subscriber's pending queue.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO pending_notifications (id, agent_id, event, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.AgentID,
		n.Event,
		n.Payload,
		n.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// DrainNotifications atomically returns and clears one subscriber's pending
// queue, in insertion order. A second immediate call returns nothing.
func (s *SQLiteStore) DrainNotifications(ctx context.Context, agentID string) ([]*Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning drain transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, agent_id, event, payload, created_at
		FROM pending_notifications
		WHERE agent_id = ?
		ORDER BY rowid ASC
	`

	rows, err := tx.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying pending notifications: %w", err)
	}

	var pending []*Notification
	for rows.Next() {
		n := &Notification{}
		var createdAt string
		if err := rows.Scan(&n.ID, &n.AgentID, &n.Event, &n.Payload, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing notification timestamp: %w", err)
		}
		pending = append(pending, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_notifications WHERE agent_id = ?`, agentID); err != nil {
		return nil, fmt.Errorf("clearing pending notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain: %w", err)
	}

	s.logger.Debug("drained pending notifications", "agent_id", agentID, "count", len(pending))
	return pending, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner abstracts sql.Row and sql.Rows for scanAgent.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	agent := &Agent{}
	var registeredAt, lastActiveAt, statsJSON, relsJSON string

	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Description,
		&agent.Status,
		&registeredAt,
		&lastActiveAt,
		&statsJSON,
		&relsJSON,
	); err != nil {
		return nil, err
	}

	var err error
	agent.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt)
	if err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	agent.LastActiveAt, err = time.Parse(time.RFC3339Nano, lastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("parsing last_active_at: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &agent.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	if err := json.Unmarshal([]byte(relsJSON), &agent.Relationships); err != nil {
		return nil, fmt.Errorf("decoding relationships: %w", err)
	}
	if agent.Relationships == nil {
		agent.Relationships = map[string]*Relationship{}
	}

	return agent, nil
}
