// ABOUTME: Tests for the notification bus.
// ABOUTME: Covers wildcard scoping, replacement semantics, and pending drain.

package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/moot/internal/metrics"
	"github.com/2389/moot/internal/store"
	"github.com/2389/moot/internal/validate"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "moot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewBus(s, nil)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"agent/registered", "agent/registered", true},
		{"agent/registered", "agent/unregistered", false},
		{"agent/*", "agent/registered", true},
		{"agent/*", "agent/status_changed", true},
		{"agent/*", "message/delivered", false},
		{"message/*", "message/broadcast", true},
		{"message/*", "agent/registered", false},
		{"agent/*", "agent", false},
		{"queue/pressure", "queue/pressure", true},
	}

	for _, tc := range tests {
		t.Run(tc.pattern+" vs "+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matches(tc.pattern, tc.name))
		})
	}
}

func TestWildcardScoping(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var received []string
	err := bus.Subscribe("a1", []string{"agent/*"}, func(evt *Event) {
		received = append(received, evt.Name)
	})
	require.NoError(t, err)

	bus.Publish(ctx, EventAgentRegistered, map[string]any{"agent_id": "a2"})
	bus.Publish(ctx, EventAgentStatusChanged, map[string]any{"agent_id": "a2"})
	bus.Publish(ctx, EventAgentUnregistered, map[string]any{"agent_id": "a2"})
	bus.Publish(ctx, EventMessageDelivered, map[string]any{"to": "a1"})
	bus.Publish(ctx, EventMessageBroadcast, map[string]any{"from": "a2"})

	assert.Equal(t, []string{
		EventAgentRegistered,
		EventAgentStatusChanged,
		EventAgentUnregistered,
	}, received)
}

func TestOverlappingPatternsDeliverOnce(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	calls := 0
	err := bus.Subscribe("a1", []string{"agent/*", "agent/registered"}, func(evt *Event) {
		calls++
	})
	require.NoError(t, err)

	bus.Publish(ctx, EventAgentRegistered, nil)
	assert.Equal(t, 1, calls)

	// The pending queue also holds exactly one copy
	pending, err := bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResubscribeReplaces(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var old, current int
	require.NoError(t, bus.Subscribe("a1", []string{"agent/*"}, func(*Event) { old++ }))
	require.NoError(t, bus.Subscribe("a1", []string{"message/*"}, func(*Event) { current++ }))

	bus.Publish(ctx, EventAgentRegistered, nil)
	bus.Publish(ctx, EventMessageDelivered, nil)

	assert.Equal(t, 0, old, "detached callback must not fire")
	assert.Equal(t, 1, current)
}

func TestSubscribeValidation(t *testing.T) {
	bus := newTestBus(t)

	var verr *validate.Error
	assert.ErrorAs(t, bus.Subscribe("", []string{"agent/*"}, nil), &verr)
	assert.ErrorAs(t, bus.Subscribe("a1", nil, nil), &verr)
	assert.ErrorAs(t, bus.Subscribe("a1", []string{""}, nil), &verr)
}

func TestUnsubscribeAll(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	calls := 0
	require.NoError(t, bus.Subscribe("a1", []string{"agent/*", "message/*"}, func(*Event) { calls++ }))

	assert.True(t, bus.Unsubscribe("a1"))
	assert.False(t, bus.Subscribed("a1"))

	bus.Publish(ctx, EventAgentRegistered, nil)
	assert.Equal(t, 0, calls)

	// Unknown agent reports failure
	assert.False(t, bus.Unsubscribe("a2"))
}

func TestUnsubscribePartial(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var received []string
	require.NoError(t, bus.Subscribe("a1", []string{"agent/*", "message/*"}, func(evt *Event) {
		received = append(received, evt.Name)
	}))

	assert.True(t, bus.Unsubscribe("a1", "agent/*"))
	assert.True(t, bus.Subscribed("a1"))

	bus.Publish(ctx, EventAgentRegistered, nil)
	bus.Publish(ctx, EventMessageDelivered, nil)
	assert.Equal(t, []string{EventMessageDelivered}, received)

	// Dropping the last pattern deletes the subscription entirely
	assert.True(t, bus.Unsubscribe("a1", "message/*"))
	assert.False(t, bus.Subscribed("a1"))
}

func TestPendingAccumulatesForOfflineSubscriber(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	// Subscribed with no live callback
	require.NoError(t, bus.Subscribe("a1", []string{"agent/*"}, nil))

	const n = 5
	for i := 0; i < n; i++ {
		bus.Publish(ctx, EventAgentRegistered, map[string]any{"seq": i})
	}

	pending, err := bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, pending, n)

	// Drain is read-once
	pending, err = bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	bus.Publish(ctx, EventAgentRegistered, nil)

	pending, err := bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRepeatedEventsEachReachPending(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Subscribe("a1", []string{"agent/*"}, nil))

	// Identical name and payload are distinct occurrences, never collapsed
	bus.Publish(ctx, EventAgentRegistered, map[string]any{"agent_id": "a2"})
	bus.Publish(ctx, EventAgentRegistered, map[string]any{"agent_id": "a2"})

	pending, err := bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPublishCountsMetric(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	counter := metrics.NotificationsPublished.WithLabelValues(EventQueuePressure)
	before := testutil.ToFloat64(counter)

	// Counted even with nobody subscribed
	bus.Publish(ctx, EventQueuePressure, map[string]any{"agent_id": "a1"})
	bus.Publish(ctx, EventQueuePressure, map[string]any{"agent_id": "a1"})

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestNonMatchingSubscriberGetsNoPending(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Subscribe("a1", []string{"message/*"}, nil))
	bus.Publish(ctx, EventAgentRegistered, nil)

	pending, err := bus.DrainPending(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
