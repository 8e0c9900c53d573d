/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joshuapaschall/agentdesk/agentsdk"
	"github.com/joshuapaschall/agentdesk/callcontrol"
	"github.com/joshuapaschall/agentdesk/media"
	"github.com/joshuapaschall/agentdesk/signaling"
	"github.com/joshuapaschall/agentdesk/token"
)

// Config holds the tunables of the session manager.
type Config struct {
	// AgentID keys the server-side active-call record.
	AgentID string

	// AnswerPollInterval and AnswerPollAttempts bound the wait for answer
	// confirmation (default 500 ms x 20 = 10 s).
	AnswerPollInterval time.Duration
	AnswerPollAttempts int

	// AutoAnswerRetryDelay is the pause before the single auto-answer retry.
	AutoAnswerRetryDelay time.Duration

	// AnswerWatchdog bounds how long the "answering" UI state may persist.
	AnswerWatchdog time.Duration

	// HoldMusicURL, when set, is played at the customer leg while the call
	// is held.
	HoldMusicURL string

	// RequestTimeout bounds each call-control request issued from the
	// reconciler's effect runner.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		AnswerPollInterval:   500 * time.Millisecond,
		AnswerPollAttempts:   20,
		AutoAnswerRetryDelay: 500 * time.Millisecond,
		AnswerWatchdog:       15 * time.Second,
		RequestTimeout:       10 * time.Second,
	}
}

// Manager owns one agent call session: it reconciles signaling notifications
// into the registry, runs the resulting side effects, and exposes the
// operations facade.
type Manager struct {
	mu     sync.Mutex
	config *Config
	logger agentsdk.Logger

	supplier  *token.Supplier
	refresher *token.Refresher
	conn      SignalingConn
	control   *callcontrol.Client
	audio     *media.Manager

	provider Provider
	registry *Registry
	timers   *timerSet
	Emitter  *EventEmitter

	transfer *TransferSession

	// expectBridge marks that the next inbound ringing leg belongs to a
	// server-orchestrated dial and should be auto-answered. Consumed at
	// most once.
	expectBridge bool

	// recordCreated tracks which calls have written the active-call
	// record, so create is issued exactly once per call.
	recordCreated map[string]bool

	// pendingHandles holds provider handles attached before their leg was
	// admitted through signaling.
	pendingHandles map[string]ProviderCall

	closed bool
}

// SignalingConn is the slice of the signaling connection the session
// depends on.
type SignalingConn interface {
	Status() signaling.Status
	On(eventType string, handler signaling.Handler) error
	Connect(cred *token.Credential) error
	Disconnect() error
	UpdateCredential(cred *token.Credential)
}

// NewManager wires a session manager from its collaborators.
func NewManager(config *Config, supplier *token.Supplier, conn SignalingConn,
	control *callcontrol.Client, audio *media.Manager, provider Provider,
	logger agentsdk.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		config:         config,
		logger:         logger,
		supplier:       supplier,
		conn:           conn,
		control:        control,
		audio:          audio,
		provider:       provider,
		registry:       NewRegistry(),
		timers:         newTimerSet(),
		Emitter:        NewEventEmitter(),
		recordCreated:  make(map[string]bool),
		pendingHandles: make(map[string]ProviderCall),
	}
}

// Registry exposes the call registry for reads.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ActiveCall returns the call currently surfaced to the agent, or nil.
// Unanswered inbound ringing calls are not promoted: a call the agent never
// answered must not silently become "their" call just because the desk is
// otherwise idle.
func (m *Manager) ActiveCall() *Call {
	snapshot := m.registry.Snapshot()

	var best *Call
	for _, c := range snapshot {
		if c.State.IsTerminal() {
			continue
		}
		if c.Direction == DirectionInbound && c.State == CallStateRinging && !c.answered {
			continue
		}
		if best == nil || c.LastTransition.After(best.LastTransition) {
			best = c
		}
	}
	return best
}

// Start initializes the session: credential fetch, signaling connect,
// notification subscription, refresh scheduling. A credential fetch failure
// is a hard failure; the session never starts half-connected.
func (m *Manager) Start(ctx context.Context) error {
	cred, err := m.supplier.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("session start aborted: %w", err)
	}

	if err := m.conn.On(signaling.EventCallState, m.handleNotification); err != nil {
		return err
	}

	if err := m.conn.Connect(cred); err != nil {
		return fmt.Errorf("session start aborted: %w", err)
	}

	m.refresher = token.NewRefresher(m.supplier, nil, func(c *token.Credential) {
		m.conn.UpdateCredential(c)
	})
	m.refresher.Start(cred)

	return nil
}

// Close tears the session down: timers first so nothing fires mid-teardown,
// then the transfer session, audio, signaling, and finally the refresher.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	transfer := m.transfer
	m.transfer = nil
	m.mu.Unlock()

	m.timers.StopAll()
	if transfer != nil {
		transfer.abandon()
	}
	m.audio.ReleaseAll()
	if err := m.conn.Disconnect(); err != nil && m.logger != nil {
		m.logger.Printf("session: signaling disconnect error: %v", err)
	}
	if m.refresher != nil {
		m.refresher.Stop()
	}
	m.Emitter.RemoveAll()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// handleNotification is the reconciler entry point. It runs on the signaling
// read-loop goroutine, so notifications are applied strictly in order.
func (m *Manager) handleNotification(n *signaling.Notification) {
	if m.isClosed() {
		return
	}

	ev := StateEvent{
		State:     CallState(n.State),
		PrevState: CallState(n.PrevState),
	}
	if !ev.State.Valid() {
		if m.logger != nil {
			m.logger.Printf("session: ignoring notification with unknown state %q for call %s", n.State, n.CallID)
		}
		return
	}

	existing := m.registry.Get(n.CallID)
	if existing == nil {
		m.admitUnknownCall(n, ev)
		return
	}

	next, effects := Transition(existing.State, ev)
	if next == existing.State {
		return
	}

	updated := m.registry.update(n.CallID, func(c *Call) {
		c.State = next
		c.LastTransition = time.Now()
		applyCorrelation(c, n)
		applyEffectsToFlags(c, effects)
	})
	if updated == nil {
		return
	}

	m.runEffects(updated, effects)
	m.Emitter.Emit(EventCallStateChange, &StateChange{
		CallID:    updated.ID,
		PrevState: existing.State,
		State:     next,
	})
	m.Emitter.Emit(EventActiveCallChange, m.ActiveCall())
}

// AttachHandle binds the provider primitive handle for a call. Vendors that
// deliver incoming call objects through a callback call this from there; a
// handle arriving before the leg is admitted through signaling is parked and
// picked up on admission.
func (m *Manager) AttachHandle(callID string, handle ProviderCall) {
	if callID == "" || handle == nil {
		return
	}
	if m.registry.update(callID, func(c *Call) { c.handle = handle }) != nil {
		return
	}
	m.mu.Lock()
	m.pendingHandles[callID] = handle
	m.mu.Unlock()
}

// resolveHandle finds the provider handle for a newly admitted leg: a parked
// AttachHandle handle wins, then a CallSource lookup on the provider.
func (m *Manager) resolveHandle(callID string) ProviderCall {
	m.mu.Lock()
	handle, ok := m.pendingHandles[callID]
	if ok {
		delete(m.pendingHandles, callID)
	}
	m.mu.Unlock()
	if handle != nil {
		return handle
	}

	if src, ok := m.provider.(CallSource); ok {
		return src.CallByID(callID)
	}
	return nil
}

// admitUnknownCall handles a notification for a call the registry has never
// seen.
func (m *Manager) admitUnknownCall(n *signaling.Notification, ev StateEvent) {
	// A dead call is never re-inserted: a terminal notification for an
	// unknown ID is dropped.
	if ev.State.IsTerminal() {
		return
	}

	call := &Call{
		ID:             n.CallID,
		Direction:      Direction(n.Direction),
		State:          ev.State,
		Remote:         RemoteParty{Name: n.Remote.Name, Number: n.Remote.Number},
		LastTransition: time.Now(),
	}
	if call.Direction != DirectionOutbound {
		call.Direction = DirectionInbound
	}
	call.handle = m.resolveHandle(call.ID)
	applyCorrelation(call, n)
	m.registry.insert(call)

	switch ev.State {
	case CallStateActive:
		// Late-attaching bridge leg reported straight as active: valid
		// creation path. An inbound leg arriving this way also satisfies
		// a pending bridge expectation, so the flag cannot leak onto the
		// next genuine incoming call.
		if call.Direction == DirectionInbound {
			m.consumeExpectBridge()
		}
		_, effects := Transition(CallStateNew, ev)
		updated := m.registry.update(call.ID, func(c *Call) {
			applyEffectsToFlags(c, effects)
		})
		m.runEffects(updated, effects)
		m.Emitter.Emit(EventActiveCallChange, m.ActiveCall())

	case CallStateRinging:
		if call.Direction == DirectionInbound && m.consumeExpectBridge() {
			m.autoAnswer(call.ID, 0)
			return
		}
		m.playTone(call.ID, media.ToneRingback)
		if call.Direction == DirectionInbound {
			m.Emitter.Emit(EventIncomingCall, m.registry.Get(call.ID))
		}
	}

	m.Emitter.Emit(EventCallStateChange, &StateChange{
		CallID:    call.ID,
		PrevState: ev.PrevState,
		State:     ev.State,
	})
}

// consumeExpectBridge reads and clears the expecting-bridge flag. At most
// one admitted leg can ever claim it.
func (m *Manager) consumeExpectBridge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.expectBridge {
		return false
	}
	m.expectBridge = false
	return true
}

// setExpectBridge arms the auto-bridge flag ahead of a server-orchestrated
// dial.
func (m *Manager) setExpectBridge() {
	m.mu.Lock()
	m.expectBridge = true
	m.mu.Unlock()
}

// ExpectingBridge reports whether the next inbound ringing leg will be
// treated as the bridge leg of a dial.
func (m *Manager) ExpectingBridge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectBridge
}

// autoAnswer answers the bridge leg of a server-orchestrated dial. Already
// active counts as success; one retry after a short delay; after that the
// agent gets a manual answer prompt instead of a silently dropped call.
func (m *Manager) autoAnswer(callID string, attempt int) {
	call := m.registry.Get(callID)
	if call == nil {
		return
	}
	if call.State == CallStateActive {
		m.setAnswering(callID, false)
		return
	}

	m.setAnswering(callID, true)
	// Watchdog: whatever happens, "answering" UI state cannot outlive this.
	m.timers.Schedule("answer-watchdog:"+callID, m.config.AnswerWatchdog, func() {
		m.setAnswering(callID, false)
	})

	err := m.answerCall(callID)
	if err == nil {
		return
	}

	if attempt == 0 {
		m.timers.Schedule("auto-answer-retry:"+callID, m.config.AutoAnswerRetryDelay, func() {
			m.autoAnswer(callID, 1)
		})
		return
	}

	m.setAnswering(callID, false)
	m.Emitter.Emit(EventAnswerPrompt, m.registry.Get(callID))
}

func (m *Manager) setAnswering(callID string, answering bool) {
	if !answering {
		m.timers.Cancel("answer-watchdog:" + callID)
	}
	m.Emitter.Emit(EventAnswering, map[string]interface{}{
		"call_id":   callID,
		"answering": answering,
	})
}

// answerCall invokes the provider answer primitive and starts the bounded
// confirmation wait.
func (m *Manager) answerCall(callID string) error {
	call := m.registry.update(callID, func(c *Call) {
		c.answered = true
	})
	if call == nil {
		return fmt.Errorf("unknown call %s", callID)
	}

	if call.handle != nil {
		if err := call.handle.Answer(); err != nil && err != ErrNoAnswerPrimitive {
			return fmt.Errorf("answer failed for call %s: %w", callID, err)
		}
		// ErrNoAnswerPrimitive: the provider auto-connects the leg; the
		// confirmation wait below covers the optimistic path.
	}

	go m.waitForAnswer(callID)
	return nil
}

// waitForAnswer polls the registry snapshot until the call reports active or
// the attempt budget runs out. On timeout the call is left alone.
func (m *Manager) waitForAnswer(callID string) {
	for i := 0; i < m.config.AnswerPollAttempts; i++ {
		time.Sleep(m.config.AnswerPollInterval)
		if m.isClosed() {
			return
		}
		call := m.registry.Get(callID)
		if call == nil {
			m.setAnswering(callID, false)
			return
		}
		if call.State == CallStateActive {
			m.setAnswering(callID, false)
			return
		}
	}
	m.setAnswering(callID, false)
}

// runEffects performs the side effects computed by Transition.
func (m *Manager) runEffects(call *Call, effects []Effect) {
	if call == nil {
		return
	}
	for _, effect := range effects {
		switch effect {
		case EffectResetFlags, EffectResetHold:
			// flag effects are applied under the registry lock before the
			// runner sees them

		case EffectMarkHeld:
			m.playTone(call.ID, media.ToneHold)

		case EffectPlayRingback:
			m.playTone(call.ID, media.ToneRingback)
		case EffectPlayConnected:
			m.playTone(call.ID, media.ToneConnected)
		case EffectPlayDisconnected:
			m.playTone(call.ID, media.ToneDisconnected)
		case EffectPlayBusy:
			m.playTone(call.ID, media.ToneBusy)
		case EffectStopTone:
			if engine := m.audio.Get(call.ID); engine != nil {
				engine.Tones().Stop()
			}

		case EffectCreateRecord:
			m.createActiveCallRecord(call)
		case EffectDeleteRecord:
			m.deleteActiveCallRecord(call)

		case EffectPrune:
			m.registry.remove(call.ID)
			m.audio.Release(call.ID)
		}
	}
}

// applyEffectsToFlags applies the flag-mutating effects to the live registry
// entry. Runs under the registry write lock.
func applyEffectsToFlags(c *Call, effects []Effect) {
	for _, effect := range effects {
		switch effect {
		case EffectResetFlags:
			c.Muted = false
			c.Held = false
		case EffectResetHold:
			c.Held = false
		case EffectMarkHeld:
			c.Held = true
		}
	}
}

// applyCorrelation copies the correlation identifiers off a notification
// when present; later notifications can fill ids earlier ones lacked.
func applyCorrelation(c *Call, n *signaling.Notification) {
	if n.SessionID != "" {
		c.SessionID = n.SessionID
	}
	if n.CallControlID != "" {
		c.CallControlID = n.CallControlID
	}
	if n.LegID != "" {
		c.LegID = n.LegID
	}
	if n.Remote.Name != "" {
		c.Remote.Name = n.Remote.Name
	}
	if n.Remote.Number != "" {
		c.Remote.Number = n.Remote.Number
	}
}

func (m *Manager) playTone(callID string, tone media.Tone) {
	engine, err := m.audio.Attach(callID)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("session: cannot attach audio for call %s: %v", callID, err)
		}
		return
	}
	if err := engine.Tones().Play(tone); err != nil && m.logger != nil {
		m.logger.Printf("session: tone %s failed for call %s: %v", tone, callID, err)
	}
}

// createActiveCallRecord writes the server-side active-call record exactly
// once per call.
func (m *Manager) createActiveCallRecord(call *Call) {
	if call.CallControlID == "" {
		// The correlation id can arrive in a later notification; leave
		// the marker clear so a later activation still writes the record.
		if m.logger != nil {
			m.logger.Printf("session: call %s has no call-control id; skipping active-call record", call.ID)
		}
		return
	}

	m.mu.Lock()
	if m.recordCreated[call.ID] {
		m.mu.Unlock()
		return
	}
	m.recordCreated[call.ID] = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()
	if err := m.control.CreateActiveCall(ctx, call.CallControlID); err != nil && m.logger != nil {
		m.logger.Printf("session: active-call record create failed for call %s: %v", call.ID, err)
	}
}

func (m *Manager) deleteActiveCallRecord(call *Call) {
	m.mu.Lock()
	created := m.recordCreated[call.ID]
	delete(m.recordCreated, call.ID)
	m.mu.Unlock()
	if !created {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()
	if err := m.control.DeleteActiveCall(ctx, m.config.AgentID); err != nil && m.logger != nil {
		m.logger.Printf("session: active-call record delete failed for call %s: %v", call.ID, err)
	}
}
