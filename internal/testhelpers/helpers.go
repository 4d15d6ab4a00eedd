// Package testhelpers provides common utilities for testing the chat relay.
//
// It starts throwaway relay servers, dials WebSocket clients with a valid
// origin, and reads broadcast events with deadlines so tests never hang.
package testhelpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/server"
)

// TestOrigin is the origin test clients present during the handshake.
const TestOrigin = "http://localhost:3001"

// RelayServer is a running relay behind an httptest.Server.
type RelayServer struct {
	*httptest.Server
	Hub     *relay.Hub
	Gateway *server.Gateway
}

// WebSocketURL returns the ws:// URL of the relay endpoint.
func (s *RelayServer) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// StartRelayServer runs a hub and gateway built from cfg behind an httptest
// server. Everything is shut down when the test ends.
func StartRelayServer(t *testing.T, cfg server.Config) *RelayServer {
	t.Helper()

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{TestOrigin}
	}

	hub := relay.NewHub(relay.NewRegistry(), relay.NewEnricher())
	go hub.Run(context.Background())

	gateway := server.NewGateway(hub, cfg)
	ts := httptest.NewServer(server.SetupRoutes(gateway))

	t.Cleanup(func() {
		ts.Close()
		_ = gateway.Shutdown(2 * time.Second)
	})

	return &RelayServer{Server: ts, Hub: hub, Gateway: gateway}
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials the relay and registers the connection for cleanup.
func MustConnect(t *testing.T, s *RelayServer) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(s.WebSocketURL(), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WaitForClients polls until the hub has registered n connections.
func WaitForClients(t *testing.T, s *RelayServer, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Hub.Registry().Count() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d registered clients, got %d", n, s.Hub.Registry().Count())
}

// SendChat sends an inbound chat message.
func SendChat(conn *websocket.Conn, username, content string) error {
	return conn.WriteJSON(relay.InboundMessage{Username: username, Content: content})
}

// ReceiveEvent reads one broadcast event as a generic JSON object so tests
// can tell null fields from missing ones.
func ReceiveEvent(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return event, nil
}

// MustReceiveEvent reads one event or fails the test.
func MustReceiveEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	event, err := ReceiveEvent(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to receive event: %v", err)
	}
	return event
}

// ExpectNoEvent fails the test if conn receives anything within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	event, err := ReceiveEvent(conn, timeout)
	if err == nil {
		t.Fatalf("Expected no event, got %v", event)
	}
}

// CloseWebSocket sends a normal close frame and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
