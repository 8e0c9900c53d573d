/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "sync"

// Event names emitted by the session manager.
const (
	EventIncomingCall     = "incoming_call"
	EventActiveCallChange = "active_call_change"
	EventCallStateChange  = "call_state_change"
	EventAnswerPrompt     = "answer_prompt"
	EventAnswering        = "answering"
	EventTransferState    = "transfer_state"
	EventOperationError   = "operation_error"
)

// EventHandler is a callback function for session events.
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type.
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type.
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// RemoveAll drops every registered handler.
func (e *EventEmitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[string][]EventHandler)
}

// Emit fires an event, calling all registered handlers in order.
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}

// OperationError is the payload of an operation_error event: an actionable
// failure the agent should see.
type OperationError struct {
	Operation string
	CallID    string
	Err       error
}

// StateChange is the payload of a call_state_change event.
type StateChange struct {
	CallID    string
	PrevState CallState
	State     CallState
}
