/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package signaling owns the single websocket session to the RTC provider.
// It translates provider connection lifecycle events into a connection
// status and delivers call notifications to handlers strictly in arrival
// order.
package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshuapaschall/agentdesk/agentsdk"
	"github.com/joshuapaschall/agentdesk/token"
)

// Status is the connection status of the signaling session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Event names delivered by the provider. Anything outside this allow-list
// is routed to the unknown-event hook instead of a handler.
const (
	EventSessionReady = "session.ready"
	EventSessionError = "session.error"
	EventCallState    = "call.state"
)

// knownEvents is the allow-list of provider events the connection handles.
var knownEvents = map[string]bool{
	EventSessionReady: true,
	EventSessionError: true,
	EventCallState:    true,
}

// RemoteParty is the display identity of the far end of a call.
type RemoteParty struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
}

// Notification is one signaling event describing a change to connection or
// call state.
type Notification struct {
	Type          string      `json:"type"`
	CallID        string      `json:"call_id,omitempty"`
	State         string      `json:"state,omitempty"`
	PrevState     string      `json:"prev_state,omitempty"`
	Direction     string      `json:"direction,omitempty"`
	Remote        RemoteParty `json:"remote,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	CallControlID string      `json:"call_control_id,omitempty"`
	LegID         string      `json:"leg_id,omitempty"`
	Error         string      `json:"error,omitempty"`

	// Raw preserves the original message bytes.
	Raw []byte `json:"-"`
}

// Handler is a function that handles a signaling notification.
type Handler func(n *Notification)

// StatusHandler is a function invoked on every status change.
type StatusHandler func(s Status)

// UnknownEventHandler receives events outside the allow-list, for
// observability only.
type UnknownEventHandler func(eventType string, raw []byte)

// Config holds the configuration for the signaling connection.
type Config struct {
	// URL is the provider websocket endpoint.
	URL string
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval between keepalive pings.
	PingInterval time.Duration
	// PongTimeout is the deadline for a pong response.
	PongTimeout time.Duration
	// BackoffTimeReset is the initial delay before the first reconnect retry.
	BackoffTimeReset time.Duration
	// BackoffTimeMax caps the reconnect backoff.
	BackoffTimeMax time.Duration
	// MaxRetries is the number of reconnect attempts before giving up.
	MaxRetries int
}

// DefaultConfig returns the default configuration for the signaling connection.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		BackoffTimeReset: 1 * time.Second,
		BackoffTimeMax:   32 * time.Second,
		MaxRetries:       3,
	}
}

// Conn is one signaling session to the RTC provider. A Conn is created once
// per agent login and torn down on logout.
type Conn struct {
	mu     sync.Mutex
	config *Config
	logger agentsdk.Logger

	conn       *websocket.Conn
	status     Status
	connecting bool
	cred       *token.Credential

	handlers       map[string][]Handler
	statusHandlers []StatusHandler
	unknownHandler UnknownEventHandler

	closeCh chan struct{}
}

// New creates a new signaling connection.
func New(config *Config, logger agentsdk.Logger) *Conn {
	if config == nil {
		config = DefaultConfig()
	}
	return &Conn{
		config:   config,
		logger:   logger,
		status:   StatusClosed,
		handlers: make(map[string][]Handler),
		closeCh:  make(chan struct{}),
	}
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// On registers a handler for one of the allow-listed event types.
// Registering for an unknown event type is rejected.
func (c *Conn) On(eventType string, handler Handler) error {
	if !knownEvents[eventType] {
		return fmt.Errorf("unknown signaling event type %q", eventType)
	}
	if handler == nil {
		return nil
	}
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
	c.mu.Unlock()
	return nil
}

// Off removes all handlers for an event type.
func (c *Conn) Off(eventType string) {
	c.mu.Lock()
	delete(c.handlers, eventType)
	c.mu.Unlock()
}

// OnStatusChange registers a handler invoked on every status transition.
func (c *Conn) OnStatusChange(handler StatusHandler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.statusHandlers = append(c.statusHandlers, handler)
	c.mu.Unlock()
}

// OnUnknownEvent sets the observability hook for events outside the
// allow-list. Only one hook is kept; nil clears it.
func (c *Conn) OnUnknownEvent(handler UnknownEventHandler) {
	c.mu.Lock()
	c.unknownHandler = handler
	c.mu.Unlock()
}

// UpdateCredential replaces the credential used for (re)authentication.
// The live socket is not interrupted; the new credential takes effect on
// the next connect or reconnect.
func (c *Conn) UpdateCredential(cred *token.Credential) {
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
}

// Connect establishes the signaling session using the given credential.
// A second call while a connection attempt is in flight is a no-op, so two
// racing initializations can never create duplicate provider sessions.
func (c *Conn) Connect(cred *token.Credential) error {
	c.mu.Lock()
	if c.status == StatusReady || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.cred = cred
	c.closeCh = make(chan struct{})
	c.mu.Unlock()

	c.setStatus(StatusConnecting)

	if err := c.dial(); err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.setStatus(StatusError)
		return err
	}

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return nil
}

// Disconnect tears the session down. Every registered handler is removed
// before the socket closes so no stale handler fires into a torn-down
// consumer.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	c.handlers = make(map[string][]Handler)
	c.statusHandlers = nil
	c.unknownHandler = nil

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	conn := c.conn
	c.conn = nil
	c.status = StatusClosed
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected by client"))
		_ = conn.Close()
	}
	return nil
}

// dial performs one websocket connection attempt plus authentication.
func (c *Conn) dial() error {
	c.mu.Lock()
	cred := c.cred
	wsURL := c.config.URL
	c.mu.Unlock()

	if cred == nil {
		return fmt.Errorf("no signaling credential")
	}
	if wsURL == "" {
		return fmt.Errorf("no signaling URL configured")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cred.Token)

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.Dial(wsURL, headers)
	if err != nil {
		return fmt.Errorf("signaling dial failed: %w", err)
	}

	authMsg := map[string]interface{}{
		"type":         "auth",
		"token":        cred.Token,
		"sip_username": cred.SIPUsername,
	}
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		return fmt.Errorf("signaling auth failed: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.keepalive(conn)
	go c.listen(conn)
	return nil
}

// keepalive runs the ping/pong cycle until the session closes.
func (c *Conn) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// listen reads messages from the socket and dispatches them synchronously,
// one at a time, preserving delivery order.
func (c *Conn) listen(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn)
			return
		}

		var n Notification
		if err := json.Unmarshal(message, &n); err != nil {
			if c.logger != nil {
				c.logger.Printf("signaling: dropping unparseable message: %v", err)
			}
			continue
		}
		n.Raw = message

		c.dispatch(&n)
	}
}

// dispatch routes one notification. Handlers run on the read-loop goroutine
// so notification N+1 is never processed before N's handlers return.
func (c *Conn) dispatch(n *Notification) {
	if !knownEvents[n.Type] {
		c.mu.Lock()
		hook := c.unknownHandler
		c.mu.Unlock()
		if hook != nil {
			hook(n.Type, n.Raw)
		}
		return
	}

	switch n.Type {
	case EventSessionReady:
		c.setStatus(StatusReady)
	case EventSessionError:
		if c.logger != nil {
			c.logger.Printf("signaling: provider reported error: %s", n.Error)
		}
		c.setStatus(StatusError)
	}

	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers[n.Type]))
	copy(handlers, c.handlers[n.Type])
	c.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

// handleReadError reacts to an unexpected socket close. Status becomes error
// and a background reconnect starts unless the session was deliberately
// disconnected. Active calls are left alone; a socket blip can resolve
// without losing media.
func (c *Conn) handleReadError(conn *websocket.Conn) {
	select {
	case <-c.closeCh:
		return
	default:
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.setStatus(StatusError)
	go c.reconnect()
}

// reconnect retries the connection with exponential backoff.
func (c *Conn) reconnect() {
	backoff := c.config.BackoffTimeReset

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-c.closeCh:
			return
		case <-time.After(backoff):
		}

		if err := c.dial(); err == nil {
			return
		} else if c.logger != nil {
			c.logger.Printf("signaling: reconnect attempt %d failed: %v", attempt+1, err)
		}

		backoff *= 2
		if backoff > c.config.BackoffTimeMax {
			backoff = c.config.BackoffTimeMax
		}
	}

	if c.logger != nil {
		c.logger.Printf("signaling: reconnect abandoned after %d attempts", c.config.MaxRetries+1)
	}
}

// setStatus updates the status and notifies status handlers.
func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	handlers := make([]StatusHandler, len(c.statusHandlers))
	copy(handlers, c.statusHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}
