/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshuapaschall/agentdesk/token"
)

var upgrader = websocket.Upgrader{}

// signalingServer is a minimal in-process provider endpoint. It records the
// auth message and relays messages pushed through send.
type signalingServer struct {
	server *httptest.Server
	send   chan interface{}

	mu       sync.Mutex
	authured []map[string]interface{}
	conns    int
}

func newSignalingServer(t *testing.T) *signalingServer {
	t.Helper()
	s := &signalingServer{send: make(chan interface{}, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		var auth map[string]interface{}
		if err := conn.ReadJSON(&auth); err != nil {
			conn.Close()
			return
		}
		s.mu.Lock()
		s.authured = append(s.authured, auth)
		s.mu.Unlock()

		for msg := range s.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		conn.Close()
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *signalingServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *signalingServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func testConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.PingInterval = time.Hour // keep keepalive out of the way
	return cfg
}

func testCred() *token.Credential {
	return &token.Credential{
		Token:       "tok",
		SIPUsername: "agent42",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func waitForStatus(t *testing.T, c *Conn, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Status never reached %s (currently %s)", want, c.Status())
}

func TestConnectBecomesReady(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)
	defer conn.Disconnect()

	var statuses []Status
	var mu sync.Mutex
	conn.OnStatusChange(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if conn.Status() != StatusConnecting {
		t.Errorf("Expected connecting before ready event, got %s", conn.Status())
	}

	server.send <- map[string]string{"type": EventSessionReady}
	waitForStatus(t, conn, StatusReady)

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) == 0 || statuses[len(statuses)-1] != StatusReady {
		t.Errorf("Expected status handler to observe ready, got %v", statuses)
	}
}

func TestConnectSendsAuth(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)
	defer conn.Disconnect()

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		server.mu.Lock()
		n := len(server.authured)
		server.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.authured) != 1 {
		t.Fatalf("Expected one auth message, got %d", len(server.authured))
	}
	auth := server.authured[0]
	if auth["token"] != "tok" || auth["sip_username"] != "agent42" {
		t.Errorf("Unexpected auth payload: %v", auth)
	}
}

func TestReentrantConnectIsNoOp(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)
	defer conn.Disconnect()

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server.send <- map[string]string{"type": EventSessionReady}
	waitForStatus(t, conn, StatusReady)

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Second Connect failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if server.connections() != 1 {
		t.Errorf("Expected a single provider session, got %d", server.connections())
	}
}

func TestDispatchPreservesOrder(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)
	defer conn.Disconnect()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	if err := conn.On(EventCallState, func(n *Notification) {
		mu.Lock()
		got = append(got, n.CallID+":"+n.State)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	}); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	server.send <- map[string]string{"type": EventCallState, "call_id": "c1", "state": "ringing"}
	server.send <- map[string]string{"type": EventCallState, "call_id": "c1", "state": "active"}
	server.send <- map[string]string{"type": EventCallState, "call_id": "c1", "state": "hangup"}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notifications never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"c1:ringing", "c1:active", "c1:hangup"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Out-of-order dispatch: got %v, want %v", got, want)
		}
	}
}

func TestUnknownEventsReachOnlyTheHook(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)
	defer conn.Disconnect()

	var handled int
	conn.On(EventCallState, func(n *Notification) { handled++ })

	unknown := make(chan string, 1)
	conn.OnUnknownEvent(func(eventType string, raw []byte) {
		select {
		case unknown <- eventType:
		default:
		}
	})

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	server.send <- map[string]string{"type": "provider.surprise"}

	select {
	case got := <-unknown:
		if got != "provider.surprise" {
			t.Errorf("Expected provider.surprise, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Unknown event never reached the hook")
	}
	if handled != 0 {
		t.Errorf("Unknown event leaked into a call-state handler %d times", handled)
	}
}

func TestOnRejectsUnknownEventType(t *testing.T) {
	conn := New(DefaultConfig(), nil)
	if err := conn.On("made.up", func(n *Notification) {}); err == nil {
		t.Fatal("Expected registration of an unlisted event to fail")
	}
}

func TestDisconnectRemovesHandlers(t *testing.T) {
	server := newSignalingServer(t)
	conn := New(testConfig(server.wsURL()), nil)

	var fired int
	conn.On(EventCallState, func(n *Notification) { fired++ })
	conn.OnStatusChange(func(s Status) {})

	if err := conn.Connect(testCred()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if conn.Status() != StatusClosed {
		t.Errorf("Expected closed after Disconnect, got %s", conn.Status())
	}

	// A stale dispatch after teardown must find no handlers.
	conn.dispatch(&Notification{Type: EventCallState, CallID: "c1", State: "active"})
	if fired != 0 {
		t.Errorf("Handler fired %d times after Disconnect", fired)
	}
}
