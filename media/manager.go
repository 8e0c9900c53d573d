/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"
	"sync"

	"github.com/joshuapaschall/agentdesk/agentsdk"
)

// Manager owns the media engines for all tracked calls, keyed by call ID.
// It is the only component allowed to close an engine: release happens on a
// call's terminal state or on manager teardown, never from the outside.
type Manager struct {
	mu      sync.Mutex
	config  *Config
	logger  agentsdk.Logger
	engines map[string]*Engine
	closed  bool

	// newEngine is swappable for tests.
	newEngine func(*Config) (*Engine, error)
}

// NewManager creates a media manager.
func NewManager(config *Config, logger agentsdk.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logger
	}
	return &Manager{
		config:    config,
		logger:    logger,
		engines:   make(map[string]*Engine),
		newEngine: newEngine,
	}
}

// Attach returns the engine for the call, creating one on first use.
func (m *Manager) Attach(callID string) (*Engine, error) {
	if callID == "" {
		return nil, fmt.Errorf("call ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("media manager is closed")
	}
	if engine, ok := m.engines[callID]; ok {
		return engine, nil
	}

	engine, err := m.newEngine(m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create media engine for call %s: %w", callID, err)
	}
	m.engines[callID] = engine
	return engine, nil
}

// Get returns the engine for the call, or nil when none is attached.
func (m *Manager) Get(callID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engines[callID]
}

// Release closes the call's engine, stopping any tone it is playing.
// Releasing an unknown call is a no-op.
func (m *Manager) Release(callID string) {
	m.mu.Lock()
	engine := m.engines[callID]
	delete(m.engines, callID)
	m.mu.Unlock()

	if engine == nil {
		return
	}
	if err := engine.close(); err != nil && m.logger != nil {
		m.logger.Printf("media: error releasing engine for call %s: %v", callID, err)
	}
}

// ReleaseAll closes every engine and marks the manager closed. Further
// Attach calls fail.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.closed = true
	m.mu.Unlock()

	for callID, engine := range engines {
		if err := engine.close(); err != nil && m.logger != nil {
			m.logger.Printf("media: error releasing engine for call %s: %v", callID, err)
		}
	}
}
