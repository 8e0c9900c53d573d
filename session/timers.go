/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync"
	"time"
)

// timerSet tracks every pending timer in one collection so teardown can
// cancel them atomically. A fired callback re-checks liveness under the
// lock, so no timer body runs after StopAll.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a named timer. Re-scheduling an armed name replaces it.
// After StopAll, Schedule is a no-op.
func (ts *timerSet) Schedule(name string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.closed {
		return
	}
	if t, ok := ts.timers[name]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		ts.mu.Lock()
		if ts.closed || ts.timers[name] != timer {
			ts.mu.Unlock()
			return
		}
		delete(ts.timers, name)
		ts.mu.Unlock()
		fn()
	})
	ts.timers[name] = timer
}

// Cancel stops one named timer. Unknown names are a no-op.
func (ts *timerSet) Cancel(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[name]; ok {
		t.Stop()
		delete(ts.timers, name)
	}
}

// StopAll cancels every pending timer and marks the set closed.
func (ts *timerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}
