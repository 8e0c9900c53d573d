/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync"
)

// Registry tracks every call currently known to the session, keyed by call
// ID. It is mutated only by the reconciler; everything else reads snapshots.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewRegistry creates an empty call registry.
func NewRegistry() *Registry {
	return &Registry{
		calls: make(map[string]*Call),
	}
}

// Get returns a copy of the call, or nil when unknown.
func (r *Registry) Get(callID string) *Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.calls[callID]; ok {
		return c.clone()
	}
	return nil
}

// Len returns the number of tracked calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Snapshot returns copies of every tracked call.
func (r *Registry) Snapshot() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.clone())
	}
	return out
}

// ActiveCall derives the single call surfaced to the agent: the
// most-recently transitioned non-terminal call. Nil when the registry holds
// no non-terminal calls. The active call is derived, never stored, so it can
// never disagree with the registry.
func (r *Registry) ActiveCall() *Call {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Call
	for _, c := range r.calls {
		if c.State.IsTerminal() {
			continue
		}
		if best == nil || c.LastTransition.After(best.LastTransition) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.clone()
}

// insert adds a call. The caller owns the value afterwards only through
// registry methods.
func (r *Registry) insert(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
}

// remove prunes a call. Unknown IDs are a no-op.
func (r *Registry) remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

// update applies fn to the live call entry under the write lock and returns
// a copy of the result, or nil when the call is unknown.
func (r *Registry) update(callID string, fn func(c *Call)) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil
	}
	fn(c)
	return c.clone()
}
