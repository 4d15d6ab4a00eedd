// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the static client files.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

// Gateway connects WebSocket clients to a relay hub.
type Gateway struct {
	hub      *relay.Hub
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewGateway creates a Gateway serving hub with cfg.
func NewGateway(hub *relay.Hub, cfg Config) *Gateway {
	cfg = cfg.Sanitize()
	policy := newOriginPolicy(cfg.AllowedOrigins)
	return &Gateway{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// WebSocketHandler upgrades GET requests to WebSocket connections, registers
// the new client with the hub, and runs its pumps until the client leaves.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if !g.track() {
		log.Printf("Rejecting client from %s: gateway is shutting down", r.RemoteAddr)
		_ = conn.Close()
		return
	}

	client := NewClient(conn, g.hub, r.RemoteAddr, g.cfg)
	if err := g.hub.Connect(client); err != nil {
		g.wg.Done()
		log.Printf("Rejecting client from %s: %v", r.RemoteAddr, err)
		_ = conn.Close()
		return
	}
	log.Printf("Client connected from %s", r.RemoteAddr)

	go func() {
		defer g.wg.Done()
		client.Serve()
		log.Printf("Client disconnected from %s", r.RemoteAddr)
	}()
}

// track counts a new client goroutine unless the gateway is shutting down.
// The count is taken under the same lock Shutdown uses to stop admitting
// clients, so no Add can follow the final Wait.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.wg.Add(1)
	return true
}

// waitClients blocks until every client served by g has finished, or ctx is
// done.
func (g *Gateway) waitClients(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops admitting clients and stops the hub, which closes every
// client, then waits for the client goroutines to exit.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	if err := g.hub.Shutdown(timeout); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := g.waitClients(ctx); err != nil {
		log.Println("Client shutdown timeout reached, some goroutines may still be running")
		return err
	}
	return nil
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}
