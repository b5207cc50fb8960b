// ABOUTME: Maps operation names to engine methods for transport layers.
// ABOUTME: Unmarshals JSON arguments and recovers panics into internal errors.

package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Operation names accepted by Dispatch.
const (
	OpRegisterAgent                = "register-agent"
	OpUnregisterAgent              = "unregister-agent"
	OpDiscoverAgents               = "discover-agents"
	OpSendMessage                  = "send-message"
	OpCheckForMessages             = "check-for-messages"
	OpUpdateAgentStatus            = "update-agent-status"
	OpSubscribeToNotifications     = "subscribe-to-notifications"
	OpUnsubscribeFromNotifications = "unsubscribe-from-notifications"
	OpSendBroadcast                = "send-broadcast"
	OpGetPendingNotifications      = "get-pending-notifications"
	OpGrantSpeakingStickTo         = "grant-speaking-stick-to"
	OpReleaseSpeakingStick         = "release-speaking-stick"
	OpSetCommunicationMode         = "set-communication-mode"
	OpTrackSpeakingViolation       = "track-speaking-violation"
	OpNudgeSilentAgents            = "nudge-silent-agents"
	OpGetSpeakingStickStatus       = "get-speaking-stick-status"
	OpForceResetSpeakingStick      = "force-reset-speaking-stick"
)

type registerArgs struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type agentArgs struct {
	AgentID string `json:"agent_id"`
}

type sendArgs struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Message     string `json:"message"`
}

type statusArgs struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

type subscribeArgs struct {
	AgentID string   `json:"agent_id"`
	Events  []string `json:"events"`
}

type broadcastArgs struct {
	FromAgentID string `json:"from_agent_id"`
	Message     string `json:"message"`
	Priority    string `json:"priority"`
}

type grantArgs struct {
	GranterID      string `json:"granter_id"`
	TargetAgentID  string `json:"target_agent_id"`
	Topic          string `json:"topic"`
	PrivilegeLevel string `json:"privilege_level"`
}

type releaseArgs struct {
	AgentID string `json:"agent_id"`
	Summary string `json:"summary"`
	PassTo  string `json:"pass_to"`
}

type modeArgs struct {
	Mode             string `json:"mode"`
	InitiatorID      string `json:"initiator_id"`
	EnforcementLevel string `json:"enforcement_level"`
}

type violationArgs struct {
	AgentID       string `json:"agent_id"`
	ViolationType string `json:"violation_type"`
	Detail        string `json:"detail"`
}

// Dispatch routes a named operation with JSON-encoded arguments to the
// corresponding typed method. A panic in any operation is recovered and
// reported as an InternalError rather than taking the process down.
func (e *Engine) Dispatch(ctx context.Context, op string, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation panicked", "operation", op, "panic", r)
			result = nil
			err = &InternalError{Err: fmt.Errorf("operation %s panicked: %v", op, r)}
		}
	}()

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch op {
	case OpRegisterAgent:
		var a registerArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.RegisterAgent(ctx, a.Name, a.Description)

	case OpUnregisterAgent:
		var a agentArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.UnregisterAgent(ctx, a.AgentID)

	case OpDiscoverAgents:
		return e.DiscoverAgents(ctx)

	case OpSendMessage:
		var a sendArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.SendMessage(ctx, a.FromAgentID, a.ToAgentID, a.Message)

	case OpCheckForMessages:
		var a agentArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.CheckForMessages(ctx, a.AgentID)

	case OpUpdateAgentStatus:
		var a statusArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.UpdateAgentStatus(ctx, a.AgentID, a.Status)

	case OpSubscribeToNotifications:
		var a subscribeArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.SubscribeToNotifications(ctx, a.AgentID, a.Events)

	case OpUnsubscribeFromNotifications:
		var a subscribeArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.UnsubscribeFromNotifications(ctx, a.AgentID, a.Events)

	case OpSendBroadcast:
		var a broadcastArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.SendBroadcast(ctx, a.FromAgentID, a.Message, a.Priority)

	case OpGetPendingNotifications:
		var a agentArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.GetPendingNotifications(ctx, a.AgentID)

	case OpGrantSpeakingStickTo:
		var a grantArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.GrantSpeakingStickTo(ctx, a.GranterID, a.TargetAgentID, a.Topic, a.PrivilegeLevel)

	case OpReleaseSpeakingStick:
		var a releaseArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.ReleaseSpeakingStick(ctx, a.AgentID, a.Summary, a.PassTo)

	case OpSetCommunicationMode:
		var a modeArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.SetCommunicationMode(ctx, a.Mode, a.InitiatorID, a.EnforcementLevel)

	case OpTrackSpeakingViolation:
		var a violationArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.TrackSpeakingViolation(ctx, a.AgentID, a.ViolationType, a.Detail)

	case OpNudgeSilentAgents:
		return e.NudgeSilentAgents(ctx)

	case OpGetSpeakingStickStatus:
		return e.GetSpeakingStickStatus(ctx)

	case OpForceResetSpeakingStick:
		return e.ForceResetSpeakingStick(ctx)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: "arguments", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}
