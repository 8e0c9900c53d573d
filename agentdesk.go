/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package agentdesk is the top-level client for the agent telephony desk.
// It aggregates the token supplier, the signaling connection, the
// call-control client, the media manager, and the session manager over one
// shared core HTTP client.
package agentdesk

import (
	"github.com/joshuapaschall/agentdesk/agentsdk"
	"github.com/joshuapaschall/agentdesk/callcontrol"
	"github.com/joshuapaschall/agentdesk/media"
	"github.com/joshuapaschall/agentdesk/session"
	"github.com/joshuapaschall/agentdesk/signaling"
	"github.com/joshuapaschall/agentdesk/token"
)

// Client is the top-level client for the agent desk.
type Client struct {
	core *agentsdk.Client

	tokenClient       *token.Supplier
	signalingClient   *signaling.Conn
	callControlClient *callcontrol.Client
	mediaClient       *media.Manager
}

// NewClient creates a new agent desk client with the given access token and
// optional configuration.
func NewClient(accessToken string, config *agentsdk.Config) (*Client, error) {
	core, err := agentsdk.NewClient(accessToken, config)
	if err != nil {
		return nil, err
	}
	return &Client{core: core}, nil
}

// Core returns the underlying HTTP client.
func (c *Client) Core() *agentsdk.Client {
	return c.core
}

// Token returns the credential supplier.
func (c *Client) Token() *token.Supplier {
	if c.tokenClient == nil {
		c.tokenClient = token.NewSupplier(c.core, nil)
	}
	return c.tokenClient
}

// Signaling returns the signaling connection.
func (c *Client) Signaling() *signaling.Conn {
	if c.signalingClient == nil {
		c.signalingClient = signaling.New(nil, c.core.GetLogger())
	}
	return c.signalingClient
}

// SignalingWithConfig replaces the signaling connection with one using the
// given configuration. Call before Signaling or NewSession.
func (c *Client) SignalingWithConfig(config *signaling.Config) *signaling.Conn {
	c.signalingClient = signaling.New(config, c.core.GetLogger())
	return c.signalingClient
}

// CallControl returns the call-control API client.
func (c *Client) CallControl() *callcontrol.Client {
	if c.callControlClient == nil {
		c.callControlClient = callcontrol.New(c.core, nil)
	}
	return c.callControlClient
}

// Media returns the media manager.
func (c *Client) Media() *media.Manager {
	if c.mediaClient == nil {
		c.mediaClient = media.NewManager(nil, c.core.GetLogger())
	}
	return c.mediaClient
}

// NewSession wires a session manager from the client's sub-components and
// the given provider.
func (c *Client) NewSession(config *session.Config, provider session.Provider) *session.Manager {
	return session.NewManager(
		config,
		c.Token(),
		c.Signaling(),
		c.CallControl(),
		c.Media(),
		provider,
		c.core.GetLogger(),
	)
}
