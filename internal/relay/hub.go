package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

type inboundEvent struct {
	conn Conn
	msg  InboundMessage
}

// Hub owns the registry and serializes connection lifecycle and message
// events through a single Run loop. Each event is fully applied, including its
// fan-out, before the next one is taken.
type Hub struct {
	registry   *Registry
	enricher   *Enricher
	connect    chan Conn
	disconnect chan Conn
	inbound    chan inboundEvent
	quit       chan struct{}
	quitOnce   sync.Once
	done       chan struct{}
}

// NewHub creates a Hub around registry and enricher. Nil arguments are
// replaced by defaults.
func NewHub(registry *Registry, enricher *Enricher) *Hub {
	if registry == nil {
		registry = NewRegistry()
	}
	if enricher == nil {
		enricher = NewEnricher()
	}
	return &Hub{
		registry:   registry,
		enricher:   enricher,
		connect:    make(chan Conn),
		disconnect: make(chan Conn),
		inbound:    make(chan inboundEvent),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Registry exposes the hub's registry for read-only inspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Connect registers conn and gives it a color. Nothing is broadcast.
func (h *Hub) Connect(conn Conn) error {
	select {
	case h.connect <- conn:
		return nil
	case <-h.quit:
		return ErrHubClosed
	}
}

// Deliver parses raw as a chat message from conn and queues it for
// broadcast. A payload that cannot be parsed is rejected with
// ErrMalformedMessage and nothing is broadcast.
func (h *Hub) Deliver(conn Conn, raw []byte) error {
	msg, err := ParseInbound(raw)
	if err != nil {
		return err
	}
	select {
	case h.inbound <- inboundEvent{conn: conn, msg: msg}:
		return nil
	case <-h.quit:
		return ErrHubClosed
	}
}

// Disconnect removes conn and announces its departure to the remaining
// connections.
func (h *Hub) Disconnect(conn Conn) error {
	select {
	case h.disconnect <- conn:
		return nil
	case <-h.quit:
		return ErrHubClosed
	}
}

// Run processes hub events until ctx is done or Shutdown is called. Either
// way the hub stops accepting events and closes every registered connection
// before Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.stop()
			h.closeConnections()
			return

		case <-h.quit:
			h.closeConnections()
			return

		case conn := <-h.connect:
			h.handleConnect(conn)

		case conn := <-h.disconnect:
			h.handleDisconnect(conn)

		case ev := <-h.inbound:
			h.handleMessage(ev)
		}
	}
}

func (h *Hub) handleConnect(conn Conn) {
	if conn == nil {
		log.Printf("Received nil connection; skipping")
		return
	}
	h.registry.Register(conn)
	h.registry.AssignColorIfAbsent(conn)
	log.Printf("Client connected. Total clients: %d", h.registry.Count())
}

func (h *Hub) handleMessage(ev inboundEvent) {
	if !h.registry.SetUsername(ev.conn, ev.msg.Username) {
		log.Printf("Dropping message: %v", ErrUnknownConnection)
		return
	}

	event, err := h.enricher.EnrichChatMessage(ev.msg, ev.conn, h.registry)
	if err != nil {
		log.Printf("Dropping message from %q: %v", ev.msg.Username, err)
		return
	}
	h.broadcast(event)
}

func (h *Hub) handleDisconnect(conn Conn) {
	id, ok := h.registry.Unregister(conn)
	if !ok {
		return
	}
	log.Printf("Client disconnected. Total clients: %d", h.registry.Count())

	h.broadcast(h.enricher.BuildDisconnectEvent(id.Username, h.registry))
}

// broadcast sends event to every registered connection. Failures are logged
// per recipient and never stop delivery to the others.
func (h *Hub) broadcast(event OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding event %s: %v", event.ID, err)
		return
	}

	conns := h.registry.AllConns()
	failed := 0
	for _, conn := range conns {
		if err := safeSend(conn, payload); err != nil {
			failed++
			log.Printf("Error sending event %s: %v", event.ID, err)
		}
	}
	log.Printf("Broadcast event %s to %d clients (%d failed)", event.ID, len(conns), failed)
}

func safeSend(conn Conn, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in send: %v", r)
		}
	}()
	return conn.Send(payload)
}

// closeConnections closes every registered handle that supports it.
func (h *Hub) closeConnections() {
	log.Println("Shutting down all client connections...")

	conns := h.registry.AllConns()
	closed := 0
	for _, conn := range conns {
		closer, ok := conn.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			log.Printf("Error closing client connection: %v", err)
			continue
		}
		closed++
	}

	log.Printf("Closed %d client connections", closed)
}

// Wait blocks until Run has returned.
func (h *Hub) Wait() {
	<-h.done
}

// Shutdown stops the Run loop and closes all registered connections. It
// returns context.DeadlineExceeded if Run does not finish within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")
	h.stop()

	select {
	case <-h.done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

func (h *Hub) stop() {
	h.quitOnce.Do(func() { close(h.quit) })
}

// IsClosed reports whether err means the hub no longer accepts events.
func IsClosed(err error) bool {
	return errors.Is(err, ErrHubClosed)
}
