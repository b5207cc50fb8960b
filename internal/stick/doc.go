// Package stick implements the turn-taking gate for group broadcasts.
//
// # Modes
//
// The coordinator runs in one of two modes:
//
//   - chaos: the default. Anyone may broadcast at any time.
//   - speaking-stick: only the current holder may broadcast. The agent that
//     enters the mode becomes the ruler and initial holder.
//
// # Stick movement
//
// The ruler is the single authority for the stick:
//
//	SetMode(speaking-stick, ruler, level)  ruler = holder = initiator
//	GrantTo(ruler, target, ...)            holder = target
//	Release(holder, ...)                   holder = ruler
//
// Denied grants and releases are structured results ("not_ruler",
// "not_holder", "wrong_mode"), never errors: breaking a social rule is an
// outcome, not a failure.
//
// # Violations
//
// TrackViolation counts per-agent violations and escalates the response
// tier: mild (1-2), moderate (3-5), shame (6+). Under social-pressure
// enforcement the violation is also announced to the whole group through
// the Alerter, which bypasses the gate.
//
// # Nudges
//
// NudgeSilent scans the roster for agents idle beyond the threshold and
// suggests a role-appropriate prompt for each: holders are asked to speak
// or release, everyone else to check in.
package stick
