// Package notify is the notification bus for the coordination engine.
//
// # Overview
//
// Components publish named events (agent lifecycle, message delivery,
// queue pressure) and agents subscribe with event patterns. The bus sits
// between the directory/mailbox and whatever transport an agent uses to
// consume events.
//
// # Patterns
//
// A subscription pattern is either an exact event name or a trailing
// wildcard over a category:
//
//	agent/registered    matches only that event
//	agent/*             matches agent/registered, agent/status_changed, ...
//
// An agent has at most one subscription record; subscribing again replaces
// the previous pattern set atomically, so overlapping patterns never cause
// duplicate delivery.
//
// # Delivery
//
// Publish is synchronous and has two sides:
//
//   - Live: a subscriber's callback, if attached, is invoked once per event.
//   - Durable: the event is appended to the subscriber's pending queue in
//     the store, exactly once per event. The matching pass works on whole
//     subscription records, so overlapping patterns cannot double-deliver.
//
// Pending queues are read-once: DrainPending returns the queued events and
// clears them in the same transaction. An agent that was offline catches up
// on its next drain; an agent that drained twice sees the second call come
// back empty.
package notify
