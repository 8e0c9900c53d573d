/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/joshuapaschall/agentdesk/callcontrol"
	"github.com/joshuapaschall/agentdesk/signaling"
)

// ErrNotReady is returned by MakeCall while the signaling connection is not
// ready.
var ErrNotReady = fmt.Errorf("signaling connection is not ready")

// ErrCallInProgress is returned by MakeCall while the agent already has an
// active call. Dials are rejected, never queued.
var ErrCallInProgress = fmt.Errorf("a call is already in progress")

// Answer answers the current inbound ringing call. With no ringing call it
// is a no-op; operating on a vanished call must never panic the desk.
func (m *Manager) Answer() {
	target := m.ringingInbound()
	if target == nil {
		return
	}
	if err := m.answerCall(target.ID); err != nil {
		m.emitOperationError("answer", target.ID, err)
	}
}

// Hangup ends the current call. Not-yet-active agent-initiated outbound legs
// are cancelled through call control, since the provider primitive cannot
// tear down a leg that never connected.
func (m *Manager) Hangup() {
	call := m.currentCall()
	if call == nil {
		return
	}

	if call.Direction == DirectionOutbound && call.State != CallStateActive && call.State != CallStateHeld {
		m.CancelCall(call.ID)
		return
	}

	if call.handle == nil {
		return
	}
	if err := call.handle.Hangup(); err != nil {
		m.emitOperationError("hangup", call.ID, err)
	}
}

// CancelCall best-effort cancels a not-yet-active outbound leg via call
// control.
func (m *Manager) CancelCall(callID string) {
	call := m.registry.Get(callID)
	if call == nil || call.CallControlID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()
	if err := m.control.CancelCall(ctx, call.CallControlID); err != nil {
		m.emitOperationError("cancel", call.ID, err)
	}
}

// ToggleMute flips the mute state of the active call. The flag only changes
// after the provider primitive succeeds.
func (m *Manager) ToggleMute() {
	call := m.ActiveCall()
	if call == nil || call.handle == nil {
		return
	}

	var err error
	if call.Muted {
		err = call.handle.Unmute()
	} else {
		err = call.handle.Mute()
	}
	if err != nil {
		m.emitOperationError("mute", call.ID, err)
		return
	}

	muted := !call.Muted
	m.registry.update(call.ID, func(c *Call) {
		c.Muted = muted
	})
	if engine := m.audio.Get(call.ID); engine != nil {
		if muted {
			engine.Mute()
		} else {
			engine.Unmute()
		}
	}
	m.Emitter.Emit(EventActiveCallChange, m.ActiveCall())
}

// Unmute forces the active call unmuted regardless of the current flag.
func (m *Manager) Unmute() {
	call := m.ActiveCall()
	if call == nil || call.handle == nil {
		return
	}
	if err := call.handle.Unmute(); err != nil {
		m.emitOperationError("unmute", call.ID, err)
		return
	}
	m.registry.update(call.ID, func(c *Call) {
		c.Muted = false
	})
	if engine := m.audio.Get(call.ID); engine != nil {
		engine.Unmute()
	}
}

// ToggleHold parks or resumes the active call. The call-control API is the
// primary path (it can start hold music at the customer leg); the provider
// primitive is the fallback. The Held flag flips only after whichever path
// actually succeeded, so overlapping hold/unhold clicks settle on the last
// completed operation rather than wedging the flag.
func (m *Manager) ToggleHold() {
	call := m.ActiveCall()
	if call == nil {
		return
	}
	m.setHold(call, !call.Held)
}

// Unhold forces the active call resumed regardless of the current flag.
func (m *Manager) Unhold() {
	call := m.ActiveCall()
	if call == nil {
		return
	}
	m.setHold(call, false)
}

// setHold drives both hold paths. Call control goes first even though the
// provider primitive is simpler: hold music at the customer leg can only be
// started through the control plane, and a provider-held leg would park the
// customer in silence. The primitive remains the fallback when the control
// plane is unreachable.
func (m *Manager) setHold(call *Call, hold bool) {
	err := m.holdViaControl(call, hold)
	if err != nil {
		err = m.holdViaProvider(call, hold)
	}
	if err != nil {
		m.emitOperationError("hold", call.ID, err)
		return
	}

	m.registry.update(call.ID, func(c *Call) {
		c.Held = hold
	})
	m.Emitter.Emit(EventActiveCallChange, m.ActiveCall())
}

func (m *Manager) holdViaControl(call *Call, hold bool) error {
	if call.CallControlID == "" {
		return fmt.Errorf("call %s has no call-control id", call.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	if err := m.control.Hold(ctx, call.CallControlID, hold); err != nil {
		return err
	}

	// Hold music at the customer leg is best effort: a playback failure
	// must not undo a successful hold.
	if m.config.HoldMusicURL != "" {
		action := "stop"
		if hold {
			action = "start"
		}
		req := &callcontrol.PlaybackRequest{
			Action:   action,
			AudioURL: m.config.HoldMusicURL,
			Loop:     true,
		}
		if err := m.control.Playback(ctx, call.CallControlID, req); err != nil && m.logger != nil {
			m.logger.Printf("session: hold music %s failed for call %s: %v", action, call.ID, err)
		}
	}
	return nil
}

func (m *Manager) holdViaProvider(call *Call, hold bool) error {
	if call.handle == nil {
		return fmt.Errorf("call %s has no provider handle", call.ID)
	}
	if hold {
		return call.handle.Hold()
	}
	return call.handle.Unhold()
}

// MakeCall dials the destination through the server-orchestrated path. It
// requires a ready signaling connection and an idle desk: a dial that cannot
// proceed is rejected immediately, never queued. The metadata payload rides
// opaquely to the provider so the bridged leg can be correlated back.
func (m *Manager) MakeCall(destination string, metadata map[string]string) error {
	if destination == "" {
		return fmt.Errorf("destination is required")
	}
	if m.conn.Status() != signaling.StatusReady {
		return ErrNotReady
	}
	if m.ActiveCall() != nil {
		return ErrCallInProgress
	}

	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["dialed_number"] = destination
	if _, ok := metadata["routing_hint"]; !ok {
		metadata["routing_hint"] = "agent_dial"
	}

	// Armed before the dial: the bridge leg can ring back before NewCall
	// returns.
	m.setExpectBridge()

	handle, err := m.provider.NewCall(destination, metadata)
	if err != nil {
		m.consumeExpectBridge()
		return fmt.Errorf("dial to %s failed: %w", destination, err)
	}

	call := &Call{
		ID:             handle.ID(),
		Direction:      DirectionOutbound,
		State:          CallStateNew,
		Remote:         RemoteParty{Number: destination},
		LastTransition: time.Now(),
		handle:         handle,
		answered:       true,
	}
	m.registry.insert(call)
	m.Emitter.Emit(EventActiveCallChange, m.ActiveCall())
	return nil
}

// SendDTMF plays DTMF digits into the active call.
func (m *Manager) SendDTMF(digits string) {
	call := m.ActiveCall()
	if call == nil || call.handle == nil || digits == "" {
		return
	}
	if err := call.handle.SendDTMF(digits); err != nil {
		m.emitOperationError("dtmf", call.ID, err)
	}
}

// currentCall returns the active call, or failing that the inbound ringing
// call, so Hangup can also decline a ringing leg.
func (m *Manager) currentCall() *Call {
	if call := m.ActiveCall(); call != nil {
		return call
	}
	return m.ringingInbound()
}

// ringingInbound returns the most recent unanswered inbound ringing call.
func (m *Manager) ringingInbound() *Call {
	var best *Call
	for _, c := range m.registry.Snapshot() {
		if c.Direction != DirectionInbound || c.State != CallStateRinging {
			continue
		}
		if best == nil || c.LastTransition.After(best.LastTransition) {
			best = c
		}
	}
	return best
}

func (m *Manager) emitOperationError(op, callID string, err error) {
	if m.logger != nil {
		m.logger.Printf("session: %s failed for call %s: %v", op, callID, err)
	}
	m.Emitter.Emit(EventOperationError, &OperationError{
		Operation: op,
		CallID:    callID,
		Err:       err,
	})
}
