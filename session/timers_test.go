/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerSetFires(t *testing.T) {
	ts := newTimerSet()
	defer ts.StopAll()

	fired := make(chan struct{})
	ts.Schedule("t1", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Scheduled timer never fired")
	}
}

func TestTimerSetReplaceByName(t *testing.T) {
	ts := newTimerSet()
	defer ts.StopAll()

	var first, second int32
	ts.Schedule("same", 30*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	ts.Schedule("same", 30*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(150 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Error("Replaced timer must not fire")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Error("Replacement timer must fire once")
	}
}

func TestTimerSetCancel(t *testing.T) {
	ts := newTimerSet()
	defer ts.StopAll()

	var fired int32
	ts.Schedule("t1", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	ts.Cancel("t1")
	ts.Cancel("never-existed")

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("Cancelled timer must not fire")
	}
}

func TestTimerSetNoFireAfterStopAll(t *testing.T) {
	ts := newTimerSet()

	var fired int32
	for i := 0; i < 10; i++ {
		name := string(rune('a' + i))
		ts.Schedule(name, 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	}
	ts.StopAll()

	// nothing scheduled afterwards may run either
	ts.Schedule("late", time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Errorf("%d timers fired after StopAll", n)
	}
}
