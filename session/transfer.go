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

	"github.com/joshuapaschall/agentdesk/callcontrol"
)

// TransferState is the state of an attended transfer.
type TransferState string

const (
	TransferStateConsulting TransferState = "consulting"
	TransferStateBridged    TransferState = "bridged"
	TransferStateCompleted  TransferState = "completed"
	TransferStateCancelled  TransferState = "cancelled"
)

// TransferSession is the explicit state machine for one attended transfer:
// consulting → bridged → completed or cancelled. It never survives the
// session; a torn-down desk abandons the transfer in place.
type TransferSession struct {
	mu          sync.Mutex
	state       TransferState
	destination string
	legs        TransferLegRecord
}

// TransferLegRecord is the leg-id triple driving the call-control transfer
// operations.
type TransferLegRecord struct {
	CustomerLegID string
	AgentLegID    string
	ConsultLegID  string
}

// State returns the transfer's current state.
func (t *TransferSession) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Destination returns the consult destination.
func (t *TransferSession) Destination() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destination
}

// abandon marks a live transfer cancelled in place on session teardown; the
// server-side legs are left to the provider's own cleanup.
func (t *TransferSession) abandon() {
	t.mu.Lock()
	if t.state == TransferStateConsulting || t.state == TransferStateBridged {
		t.state = TransferStateCancelled
	}
	t.mu.Unlock()
}

// Transfer returns the in-progress transfer session, or nil.
func (m *Manager) Transfer() *TransferSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfer
}

// BlindTransfer hands the active call to the destination without a consult.
// A single call-control request; failure leaves the call untouched and
// surfaces an actionable error.
func (m *Manager) BlindTransfer(destination string) error {
	call := m.ActiveCall()
	if call == nil {
		return fmt.Errorf("no active call to transfer")
	}
	if call.CallControlID == "" {
		return fmt.Errorf("call %s has no call-control id", call.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	err := m.control.BlindTransfer(ctx, &callcontrol.BlindTransferRequest{
		CallControlID: call.CallControlID,
		Destination:   destination,
	})
	if err != nil {
		m.emitOperationError("blind_transfer", call.ID, err)
		return fmt.Errorf("blind transfer to %s failed: %w", destination, err)
	}
	return nil
}

// StartTransfer begins an attended transfer from the active call: the
// customer is parked and the consult destination is dialed.
func (m *Manager) StartTransfer(destination string) (*TransferSession, error) {
	if destination == "" {
		return nil, fmt.Errorf("transfer destination is required")
	}

	m.mu.Lock()
	if m.transfer != nil {
		state := m.transfer.State()
		if state == TransferStateConsulting || state == TransferStateBridged {
			m.mu.Unlock()
			return nil, fmt.Errorf("a transfer is already in progress (%s)", state)
		}
	}
	m.mu.Unlock()

	call := m.ActiveCall()
	if call == nil {
		return nil, fmt.Errorf("no active call to transfer")
	}

	legs, err := m.resolveTransferLegs(call)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	err = m.control.StartConsult(ctx, &callcontrol.ConsultRequest{
		CustomerLegID: legs.CustomerLegID,
		AgentLegID:    legs.AgentLegID,
		Destination:   destination,
	})
	if err != nil {
		m.emitOperationError("start_transfer", call.ID, err)
		return nil, fmt.Errorf("consult dial to %s failed: %w", destination, err)
	}

	t := &TransferSession{
		state:       TransferStateConsulting,
		destination: destination,
		legs:        legs,
	}
	m.mu.Lock()
	m.transfer = t
	m.mu.Unlock()

	m.Emitter.Emit(EventTransferState, TransferStateConsulting)
	return t, nil
}

// BridgeTransfer joins the agent to the consult leg. The consult leg id is
// read back from the active-call record right before bridging, since the
// server populates it asynchronously after the consult dial.
func (m *Manager) BridgeTransfer() error {
	t := m.Transfer()
	if t == nil {
		return fmt.Errorf("no transfer in progress")
	}
	if state := t.State(); state != TransferStateConsulting {
		return fmt.Errorf("cannot bridge a transfer in state %s", state)
	}

	legs, err := m.refreshConsultLeg(t)
	if err != nil {
		m.emitOperationError("bridge_transfer", "", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	if err := m.control.BridgeConsult(ctx, transferLegs(legs)); err != nil {
		m.emitOperationError("bridge_transfer", "", err)
		return fmt.Errorf("bridge failed: %w", err)
	}

	t.mu.Lock()
	t.state = TransferStateBridged
	t.mu.Unlock()
	m.Emitter.Emit(EventTransferState, TransferStateBridged)
	return nil
}

// CompleteTransfer connects the customer to the consult target and releases
// the agent. The consult leg must have been bridged first: completing
// straight out of consulting would hand the customer to a target the agent
// never spoke to.
func (m *Manager) CompleteTransfer() error {
	t := m.Transfer()
	if t == nil {
		return fmt.Errorf("no transfer in progress")
	}
	if state := t.State(); state != TransferStateBridged {
		return fmt.Errorf("cannot complete a transfer in state %s", state)
	}

	legs, err := m.refreshConsultLeg(t)
	if err != nil {
		m.emitOperationError("complete_transfer", "", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	if err := m.control.CompleteTransfer(ctx, transferLegs(legs)); err != nil {
		m.emitOperationError("complete_transfer", "", err)
		return fmt.Errorf("complete transfer failed: %w", err)
	}

	t.mu.Lock()
	t.state = TransferStateCompleted
	t.mu.Unlock()
	m.mu.Lock()
	m.transfer = nil
	m.mu.Unlock()
	m.Emitter.Emit(EventTransferState, TransferStateCompleted)
	return nil
}

// CancelTransfer drops the consult leg and returns the customer to the
// agent.
func (m *Manager) CancelTransfer() error {
	t := m.Transfer()
	if t == nil {
		return fmt.Errorf("no transfer in progress")
	}
	if state := t.State(); state != TransferStateConsulting && state != TransferStateBridged {
		return fmt.Errorf("cannot cancel a transfer in state %s", state)
	}

	legs, err := m.refreshConsultLeg(t)
	if err != nil {
		m.emitOperationError("cancel_transfer", "", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	if err := m.control.CancelTransfer(ctx, transferLegs(legs)); err != nil {
		m.emitOperationError("cancel_transfer", "", err)
		return fmt.Errorf("cancel transfer failed: %w", err)
	}

	t.mu.Lock()
	t.state = TransferStateCancelled
	t.mu.Unlock()
	m.mu.Lock()
	m.transfer = nil
	m.mu.Unlock()
	m.Emitter.Emit(EventTransferState, TransferStateCancelled)
	return nil
}

// resolveTransferLegs gathers the customer and agent leg ids, preferring the
// local registry and falling back to the server-side active-call record.
func (m *Manager) resolveTransferLegs(call *Call) (TransferLegRecord, error) {
	legs := TransferLegRecord{AgentLegID: call.LegID}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	rec, err := m.control.GetActiveCall(ctx)
	if err != nil {
		return legs, fmt.Errorf("failed to read active-call record: %w", err)
	}
	if rec != nil {
		legs.CustomerLegID = rec.CustomerLegID
		if legs.AgentLegID == "" {
			legs.AgentLegID = rec.AgentLegID
		}
		legs.ConsultLegID = rec.ConsultLegID
	}
	if legs.CustomerLegID == "" {
		return legs, fmt.Errorf("no customer leg id available for transfer")
	}
	return legs, nil
}

// transferLegs converts the local leg record to the call-control payload.
func transferLegs(legs TransferLegRecord) callcontrol.TransferLegs {
	return callcontrol.TransferLegs{
		CustomerLegID: legs.CustomerLegID,
		AgentLegID:    legs.AgentLegID,
		ConsultLegID:  legs.ConsultLegID,
	}
}

// refreshConsultLeg re-reads the active-call record for the consult leg id
// and stores it on the session.
func (m *Manager) refreshConsultLeg(t *TransferSession) (TransferLegRecord, error) {
	t.mu.Lock()
	legs := t.legs
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.RequestTimeout)
	defer cancel()

	rec, err := m.control.GetActiveCall(ctx)
	if err != nil {
		return legs, fmt.Errorf("failed to read active-call record: %w", err)
	}
	if rec != nil && rec.ConsultLegID != "" {
		legs.ConsultLegID = rec.ConsultLegID
	}
	if legs.ConsultLegID == "" {
		return legs, fmt.Errorf("consult leg id is not yet available")
	}

	t.mu.Lock()
	t.legs = legs
	t.mu.Unlock()
	return legs, nil
}
