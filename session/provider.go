/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "errors"

// ErrNoAnswerPrimitive is returned by a ProviderCall whose leg has no
// client-side answer operation. The facade then relies on provider
// auto-connect and updates the UI optimistically.
var ErrNoAnswerPrimitive = errors.New("call handle has no answer primitive")

// Provider abstracts the vendor RTC client's call primitives so the session
// logic is testable without a live provider connection.
type Provider interface {
	// NewCall dials the destination and returns the provider call handle.
	// The metadata payload is opaque correlation data the provider echoes
	// back through signaling.
	NewCall(destination string, metadata map[string]string) (ProviderCall, error)
}

// CallSource is implemented by providers that can look up the primitive
// handle for a leg they did not dial themselves. The session queries it when
// a call first appears through signaling; providers that instead push
// incoming call objects through a callback use Manager.AttachHandle.
type CallSource interface {
	// CallByID returns the handle for the leg, or nil when the provider
	// does not know it.
	CallByID(id string) ProviderCall
}

// ProviderCall is the per-leg primitive surface.
type ProviderCall interface {
	ID() string
	Answer() error
	Hangup() error
	Mute() error
	Unmute() error
	Hold() error
	Unhold() error
	SendDTMF(digits string) error
}
