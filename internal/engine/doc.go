// Package engine wires the coordination components and names the
// operations transports expose.
//
// # Components
//
// New builds one engine instance: the notification bus, the agent
// directory, the turn-taking coordinator, and the mailbox, all sharing one
// store. The coordinator's social-pressure alerts are routed through the
// mailbox's system broadcast, which is bound after construction because
// the mailbox itself consults the coordinator.
//
// # Operations
//
// Every operation exists both as a typed method (RegisterAgent,
// SendBroadcast, ...) and as a name Dispatch accepts with raw JSON
// arguments. Dispatch recovers panics into InternalError so one bad
// operation cannot take the server down.
//
// # Errors
//
// Operation boundaries return one of four kinds: ValidationError,
// NotFoundError, PermissionError, or InternalError. Anything unexpected is
// wrapped as InternalError with its message preserved for diagnostics.
// Turn-taking denials are not errors at all; they come back as structured
// results.
package engine
