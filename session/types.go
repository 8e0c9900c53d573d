/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package session holds the agent's call session: the call registry, the
// state reconciler that consumes signaling notifications, the operations
// facade the UI invokes, and the attended-transfer orchestrator.
package session

import (
	"time"
)

// ---- Call State & Event Enums ----

// CallState represents the state of a call in the state machine.
type CallState string

const (
	CallStateNew     CallState = "new"
	CallStateTrying  CallState = "trying"
	CallStateRinging CallState = "ringing"
	CallStateActive  CallState = "active"
	CallStateHeld    CallState = "held"

	// Terminal states. A call that reaches one of these is pruned from the
	// registry and its ID is never reused.
	CallStateHangup   CallState = "hangup"
	CallStateDestroy  CallState = "destroy"
	CallStatePurge    CallState = "purge"
	CallStateFailed   CallState = "failed"
	CallStateBusy     CallState = "busy"
	CallStateRejected CallState = "rejected"
)

// IsTerminal reports whether the state ends the call.
func (s CallState) IsTerminal() bool {
	switch s {
	case CallStateHangup, CallStateDestroy, CallStatePurge,
		CallStateFailed, CallStateBusy, CallStateRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known call state.
func (s CallState) Valid() bool {
	switch s {
	case CallStateNew, CallStateTrying, CallStateRinging,
		CallStateActive, CallStateHeld:
		return true
	}
	return s.IsTerminal()
}

// Direction is the direction of a call leg relative to the agent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// RemoteParty is the far end's display identity.
type RemoteParty struct {
	Name   string
	Number string
}

// Call represents one leg of RTC media known to the session.
type Call struct {
	// ID is the provider-assigned identifier, stable for the life of the leg.
	ID        string
	Direction Direction
	State     CallState
	Remote    RemoteParty

	// Correlation identifiers bridging to the call-control API.
	SessionID     string
	CallControlID string
	LegID         string

	Muted bool
	Held  bool

	// LastTransition timestamps the most recent state change; it breaks
	// ties when more than one call is a candidate for the active slot.
	LastTransition time.Time

	// handle is the provider primitive for this leg, nil for legs the
	// provider reported but never handed a client object for.
	handle ProviderCall

	// answered marks that the agent (or the auto-bridge policy) requested
	// answer on this leg. An unanswered inbound ringing call never wins
	// the active slot.
	answered bool
}

// clone returns a copy safe to hand outside the registry lock.
func (c *Call) clone() *Call {
	cp := *c
	return &cp
}

// Handle returns the provider call primitive, or nil when the leg has none.
func (c *Call) Handle() ProviderCall {
	return c.handle
}
