/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package callcontrol is a typed client for the server-side call-control
// API: hold, playback, transfer orchestration, and the agent active-call
// record. All operations are JSON over HTTP and idempotent on retry from the
// caller's perspective.
package callcontrol

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joshuapaschall/agentdesk/agentsdk"
)

// Config holds the configuration for the call-control client.
type Config struct {
	// BasePath is prepended to every call-control route.
	BasePath string
}

// DefaultConfig returns the default configuration for the call-control client.
func DefaultConfig() *Config {
	return &Config{
		BasePath: "telephony",
	}
}

// Client provides access to the call-control API.
type Client struct {
	core   *agentsdk.Client
	config *Config
}

// New creates a new call-control client.
func New(core *agentsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		core:   core,
		config: config,
	}
}

// PlaybackRequest describes an audio playback command against a leg.
type PlaybackRequest struct {
	Action     string   `json:"action"` // "start" or "stop"
	AudioURL   string   `json:"audio_url,omitempty"`
	Loop       bool     `json:"loop,omitempty"`
	TargetLegs []string `json:"target_legs,omitempty"`
}

// BlindTransferRequest describes an unattended transfer of a live call.
type BlindTransferRequest struct {
	CallControlID string `json:"call_control_id"`
	Destination   string `json:"destination"`
}

// ConsultRequest starts an attended transfer by dialing the consult target
// while the customer leg is parked.
type ConsultRequest struct {
	CustomerLegID string `json:"customer_leg_id"`
	AgentLegID    string `json:"agent_leg_id"`
	Destination   string `json:"destination"`
}

// TransferLegs is the leg-id triple keying bridge, complete, and cancel
// operations on an attended transfer.
type TransferLegs struct {
	CustomerLegID string `json:"customer_leg_id"`
	AgentLegID    string `json:"agent_leg_id"`
	ConsultLegID  string `json:"consult_leg_id,omitempty"`
}

// ActiveCallRecord is the persisted mapping from the agent to the leg ids of
// the call they are currently on. The server owns it; this client reads it
// back before transfer operations because the leg ids are not always known
// locally when a transfer is requested.
type ActiveCallRecord struct {
	CustomerLegID string `json:"customerLegId"`
	AgentLegID    string `json:"agentLegId"`
	ConsultLegID  string `json:"consultLegId,omitempty"`
}

type activeCallResponse struct {
	ActiveCall *ActiveCallRecord `json:"active_call"`
}

// Hold parks or resumes the far leg of a call.
func (c *Client) Hold(ctx context.Context, callControlID string, hold bool) error {
	path := fmt.Sprintf("%s/calls/%s/hold", c.config.BasePath, callControlID)
	return c.post(ctx, path, map[string]interface{}{"hold": hold}, nil)
}

// Playback starts or stops audio playback on a call. Used for hold music at
// the customer leg while the agent leg is parked.
func (c *Client) Playback(ctx context.Context, callControlID string, req *PlaybackRequest) error {
	if req == nil {
		return fmt.Errorf("playback request is required")
	}
	if req.Action != "start" && req.Action != "stop" {
		return fmt.Errorf("invalid playback action %q", req.Action)
	}
	path := fmt.Sprintf("%s/calls/%s/playback", c.config.BasePath, callControlID)
	return c.post(ctx, path, req, nil)
}

// BlindTransfer transfers the call to the destination without consultation.
// There is no provider-native fallback for this operation; a failure here
// leaves the call untouched.
func (c *Client) BlindTransfer(ctx context.Context, req *BlindTransferRequest) error {
	if req == nil || req.CallControlID == "" || req.Destination == "" {
		return fmt.Errorf("blind transfer requires call_control_id and destination")
	}
	return c.post(ctx, c.config.BasePath+"/transfers/blind", req, nil)
}

// StartConsult dials the consult destination for an attended transfer.
func (c *Client) StartConsult(ctx context.Context, req *ConsultRequest) error {
	if req == nil || req.Destination == "" {
		return fmt.Errorf("consult requires a destination")
	}
	return c.post(ctx, c.config.BasePath+"/transfers/consult", req, nil)
}

// BridgeConsult joins the agent to the consult leg while the customer
// remains parked.
func (c *Client) BridgeConsult(ctx context.Context, legs TransferLegs) error {
	return c.post(ctx, c.config.BasePath+"/transfers/bridge", legs, nil)
}

// CompleteTransfer connects the customer leg to the consult leg and drops
// the agent out of the call.
func (c *Client) CompleteTransfer(ctx context.Context, legs TransferLegs) error {
	return c.post(ctx, c.config.BasePath+"/transfers/complete", legs, nil)
}

// CancelTransfer hangs up the consult leg and returns the customer to the
// agent.
func (c *Client) CancelTransfer(ctx context.Context, legs TransferLegs) error {
	return c.post(ctx, c.config.BasePath+"/transfers/cancel", legs, nil)
}

// CreateActiveCall records the given call as the agent's active call.
func (c *Client) CreateActiveCall(ctx context.Context, callControlID string) error {
	payload := map[string]string{"callControlId": callControlID}
	return c.post(ctx, c.config.BasePath+"/active-call/create", payload, nil)
}

// DeleteActiveCall removes the agent's active-call record.
func (c *Client) DeleteActiveCall(ctx context.Context, agentID string) error {
	payload := map[string]string{"agentId": agentID}
	return c.post(ctx, c.config.BasePath+"/active-call/delete", payload, nil)
}

// GetActiveCall reads back the agent's active-call record. A missing record
// returns (nil, nil).
func (c *Client) GetActiveCall(ctx context.Context) (*ActiveCallRecord, error) {
	resp, err := c.core.RequestWithRetry(ctx, http.MethodGet, c.config.BasePath+"/active-call", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active-call record: %w", err)
	}
	defer resp.Body.Close()

	var body activeCallResponse
	if err := agentsdk.ParseResponse(resp, &body); err != nil {
		if agentsdk.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch active-call record: %w", err)
	}
	return body.ActiveCall, nil
}

// CancelCall asks the server to cancel a not-yet-active outbound leg.
// Best effort: the leg may already have left the cancellable window.
func (c *Client) CancelCall(ctx context.Context, callControlID string) error {
	payload := map[string]string{"callControlId": callControlID}
	return c.post(ctx, c.config.BasePath+"/calls/cancel", payload, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, v interface{}) error {
	resp, err := c.core.RequestWithContext(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return fmt.Errorf("call-control request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := agentsdk.ParseResponse(resp, v); err != nil {
		return fmt.Errorf("call-control request to %s failed: %w", path, err)
	}
	return nil
}
