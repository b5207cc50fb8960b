// ABOUTME: Tests for the agent directory.
// ABOUTME: Uses a real SQLite store and a recording publisher.

package directory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/moot/internal/notify"
	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, event string, _ map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestDirectory(t *testing.T) (*Directory, *recordingPublisher) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "moot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	pub := &recordingPublisher{}
	return New(s, pub, nil), pub
}

func TestRegister(t *testing.T) {
	d, pub := newTestDirectory(t)
	ctx := context.Background()

	id, err := d.Register(ctx, "Dev", "implements features")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	agent, err := d.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Dev", agent.Name)
	assert.Equal(t, DefaultStatus, agent.Status)
	assert.False(t, agent.RegisteredAt.IsZero())

	assert.Equal(t, []string{notify.EventAgentRegistered}, pub.Events())
}

func TestRegisterValidation(t *testing.T) {
	d, pub := newTestDirectory(t)
	ctx := context.Background()

	long := make([]byte, 0, 101)
	for i := 0; i < 101; i++ {
		long = append(long, 'x')
	}

	tests := []struct {
		name        string
		agentName   string
		description string
	}{
		{"empty name", "", "desc"},
		{"empty description", "Dev", ""},
		{"name too long", string(long), "desc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Register(ctx, tc.agentName, tc.description)
			var verr *validate.Error
			assert.ErrorAs(t, err, &verr)
		})
	}

	// Validation failures emit nothing
	assert.Empty(t, pub.Events())
}

func TestRegisterIDsAreUniqueUnderConcurrency(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := d.Register(ctx, "Agent", "concurrent registration")
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	agents, err := d.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, n)
}

func TestUnregister(t *testing.T) {
	d, pub := newTestDirectory(t)
	ctx := context.Background()

	id, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)

	res, err := d.Unregister(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = d.Get(ctx, id)
	assert.ErrorIs(t, err, ErrAgentNotFound)

	// Idempotent: second unregister reports failure without error or event
	res, err = d.Unregister(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, []string{notify.EventAgentRegistered, notify.EventAgentUnregistered}, pub.Events())
}

func TestDiscover(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Register(ctx, "Dev", "implements")
	require.NoError(t, err)
	_, err = d.Register(ctx, "Test", "verifies")
	require.NoError(t, err)

	summaries, err := d.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	names := []string{summaries[0].Name, summaries[1].Name}
	assert.ElementsMatch(t, []string{"Dev", "Test"}, names)
}

func TestUpdateStatus(t *testing.T) {
	d, pub := newTestDirectory(t)
	ctx := context.Background()

	id, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)

	res, err := d.UpdateStatus(ctx, id, "reviewing")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, DefaultStatus, res.Previous)
	assert.Equal(t, "reviewing", res.New)

	// Unchanged status refreshes activity but emits no event
	res, err = d.UpdateStatus(ctx, id, "reviewing")
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, []string{notify.EventAgentRegistered, notify.EventAgentStatusChanged}, pub.Events())
}

func TestUpdateStatusUnknownAgent(t *testing.T) {
	d, _ := newTestDirectory(t)

	res, err := d.UpdateStatus(context.Background(), "missing", "busy")
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestUpdateStatusRefreshesActivity(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	id, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)

	before, err := d.Get(ctx, id)
	require.NoError(t, err)

	_, err = d.UpdateStatus(ctx, id, "busy")
	require.NoError(t, err)

	after, err := d.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, after.LastActiveAt.Before(before.LastActiveAt))
}

func TestListByStatus(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	a1, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)
	_, err = d.Register(ctx, "Test", "desc")
	require.NoError(t, err)

	_, err = d.UpdateStatus(ctx, a1, "busy")
	require.NoError(t, err)

	busy, err := d.ListByStatus(ctx, "busy")
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, a1, busy[0].ID)

	joined, err := d.ListByStatus(ctx, DefaultStatus)
	require.NoError(t, err)
	assert.Len(t, joined, 1)
}

func TestRecordDelivery(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	from, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)
	to, err := d.Register(ctx, "Test", "desc")
	require.NoError(t, err)

	require.NoError(t, d.RecordDelivery(ctx, from, to))
	require.NoError(t, d.RecordDelivery(ctx, from, to))

	sender, err := d.Get(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, 2, sender.Stats.MessagesSent)
	require.Contains(t, sender.Relationships, to)
	assert.Equal(t, 2, sender.Relationships[to].MessageCount)
	require.NotNil(t, sender.Stats.LastMessageAt)

	recipient, err := d.Get(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, 2, recipient.Stats.MessagesReceived)
	require.Contains(t, recipient.Relationships, from)
}

func TestRecordBroadcast(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	from, err := d.Register(ctx, "Dev", "desc")
	require.NoError(t, err)
	r1, err := d.Register(ctx, "Test", "desc")
	require.NoError(t, err)
	r2, err := d.Register(ctx, "Ops", "desc")
	require.NoError(t, err)

	require.NoError(t, d.RecordBroadcast(ctx, from, []string{r1, r2}))

	sender, err := d.Get(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, 1, sender.Stats.BroadcastsSent)

	for _, id := range []string{r1, r2} {
		agent, err := d.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, agent.Stats.MessagesReceived)
	}
}
