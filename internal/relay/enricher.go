package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const anonymousName = "anonymous"

// Enricher builds outbound events from inbound messages and registry state.
type Enricher struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithClock overrides the wall clock used for event dates.
func WithClock(now func() time.Time) EnricherOption {
	return func(e *Enricher) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(gen func() uuid.UUID) EnricherOption {
	return func(e *Enricher) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEnricher returns an Enricher using the system clock and random UUIDs.
func NewEnricher(opts ...EnricherOption) *Enricher {
	e := &Enricher{
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnrichChatMessage stamps a chat message from sender. The sender must
// already be registered, so the user count always includes it.
func (e *Enricher) EnrichChatMessage(in InboundMessage, sender Conn, registry *Registry) (OutboundEvent, error) {
	id, ok := registry.Lookup(sender)
	if !ok {
		return OutboundEvent{}, ErrUnknownConnection
	}

	users := registry.SnapshotUsernames()
	username := in.Username
	color := id.Color
	date := e.now()

	return OutboundEvent{
		ID:             e.newID(),
		Username:       &username,
		Color:          &color,
		Content:        in.Content,
		Imgs:           ScanImageLinks(in.Content),
		UserCount:      len(users),
		ConnectedUsers: users,
		Date:           &date,
	}, nil
}

// BuildDisconnectEvent announces that a connection has left. It must be called
// after the connection was removed from registry. Disconnect notices carry no
// color and no date, and an empty image list.
func (e *Enricher) BuildDisconnectEvent(username *string, registry *Registry) OutboundEvent {
	name := anonymousName
	if username != nil {
		name = *username
	}

	users := registry.SnapshotUsernames()
	return OutboundEvent{
		Type:           NotificationType,
		ID:             e.newID(),
		Username:       username,
		Content:        fmt.Sprintf("%s has disconnected", name),
		Imgs:           []string{},
		UserCount:      len(users),
		ConnectedUsers: users,
	}
}
