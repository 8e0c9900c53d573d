/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

// Effect is a side effect requested by a state transition. The transition
// function only computes effects; the manager's effect runner performs them
// against audio, HTTP, and event subscribers.
type Effect int

const (
	// EffectResetFlags clears both the mute and hold flags.
	EffectResetFlags Effect = iota
	// EffectResetHold clears the hold flag but preserves mute.
	EffectResetHold
	// EffectMarkHeld sets the hold flag.
	EffectMarkHeld
	// EffectPlayRingback starts the ringback tone.
	EffectPlayRingback
	// EffectPlayConnected plays the connected beep.
	EffectPlayConnected
	// EffectPlayDisconnected plays the disconnected beep.
	EffectPlayDisconnected
	// EffectPlayBusy plays the busy cadence.
	EffectPlayBusy
	// EffectStopTone silences any feedback tone.
	EffectStopTone
	// EffectCreateRecord writes the agent active-call record.
	EffectCreateRecord
	// EffectDeleteRecord deletes the agent active-call record.
	EffectDeleteRecord
	// EffectPrune removes the call from the registry and releases its
	// audio engine.
	EffectPrune
)

// StateEvent is a state-change notification normalized for the reconciler.
type StateEvent struct {
	State     CallState
	PrevState CallState
}

// Transition computes the next state and the side effects of applying ev to
// a call currently in old. It is pure: all effects are performed later by
// the effect runner.
//
// The provider is authoritative for the target state; the function's job is
// the flag and resource discipline around the change:
//   - entering active from anywhere but held resets mute and hold;
//   - held → active resets only hold, the agent's mute choice is orthogonal;
//   - any terminal state prunes the call and releases audio.
func Transition(old CallState, ev StateEvent) (CallState, []Effect) {
	next := ev.State
	if !next.Valid() {
		return old, nil
	}
	if next == old {
		return old, nil
	}

	var effects []Effect

	switch {
	case next.IsTerminal():
		effects = append(effects, EffectStopTone)
		if next == CallStateBusy {
			effects = append(effects, EffectPlayBusy)
		} else {
			effects = append(effects, EffectPlayDisconnected)
		}
		effects = append(effects, EffectDeleteRecord, EffectPrune)

	case next == CallStateActive:
		effects = append(effects, EffectStopTone)
		if old == CallStateHeld {
			effects = append(effects, EffectResetHold)
		} else {
			effects = append(effects, EffectResetFlags, EffectPlayConnected, EffectCreateRecord)
		}

	case next == CallStateHeld:
		effects = append(effects, EffectMarkHeld)

	case next == CallStateRinging:
		effects = append(effects, EffectPlayRingback)

	case next == CallStateTrying, next == CallStateNew:
		// setup states carry no local side effects
	}

	return next, effects
}
