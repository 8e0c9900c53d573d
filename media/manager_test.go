/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"testing"
)

// stubEngines swaps engine construction for bare engines with no peer
// connection, so manager tests stay off the network.
func stubEngines(m *Manager) {
	m.newEngine = func(config *Config) (*Engine, error) {
		return &Engine{logger: config.Logger}, nil
	}
}

func TestManagerAttach(t *testing.T) {
	m := NewManager(nil, nil)
	stubEngines(m)

	e1, err := m.Attach("call-1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	e2, err := m.Attach("call-1")
	if err != nil {
		t.Fatalf("Second Attach failed: %v", err)
	}
	if e1 != e2 {
		t.Error("Attach must return the same engine for the same call")
	}

	other, err := m.Attach("call-2")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if other == e1 {
		t.Error("Distinct calls must get distinct engines")
	}

	if _, err := m.Attach(""); err == nil {
		t.Error("Expected error for empty call ID")
	}
}

func TestManagerRelease(t *testing.T) {
	m := NewManager(nil, nil)
	stubEngines(m)

	engine, err := m.Attach("call-1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	m.Release("call-1")
	if m.Get("call-1") != nil {
		t.Error("Expected engine to be gone after Release")
	}
	engine.mu.Lock()
	closed := engine.closed
	engine.mu.Unlock()
	if !closed {
		t.Error("Expected engine to be closed after Release")
	}

	// unknown call is a no-op
	m.Release("never-seen")
}

func TestManagerReleaseAll(t *testing.T) {
	m := NewManager(nil, nil)
	stubEngines(m)

	if _, err := m.Attach("call-1"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := m.Attach("call-2"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	m.ReleaseAll()
	if m.Get("call-1") != nil || m.Get("call-2") != nil {
		t.Error("Expected all engines released")
	}

	if _, err := m.Attach("call-3"); err == nil {
		t.Error("Expected Attach to fail after ReleaseAll")
	}
}

func TestEngineMuteFlag(t *testing.T) {
	e := &Engine{}
	if e.IsMuted() {
		t.Error("New engine must start unmuted")
	}
	e.Mute()
	if !e.IsMuted() {
		t.Error("Expected muted after Mute")
	}
	e.Unmute()
	if e.IsMuted() {
		t.Error("Expected unmuted after Unmute")
	}
}
