package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType marks server-generated events such as disconnect notices.
const NotificationType = "postNotification"

var (
	// ErrMalformedMessage is returned when an inbound payload does not match
	// the wire format.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownConnection is returned for events from a handle that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrHubClosed is returned once the hub has been shut down.
	ErrHubClosed = errors.New("hub closed")
)

// Conn is the transport's handle for one client channel. Send must not block:
// a transport that cannot deliver immediately should drop the payload and
// return an error.
//
// Handles are used as map keys, so the dynamic type must be comparable or
// Register panics. Pointer types satisfy this and compare by identity.
type Conn interface {
	Send(payload []byte) error
}

// InboundMessage is the JSON payload a client sends.
type InboundMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// OutboundEvent is the enriched payload broadcast to every connection.
//
// Nil pointers and the nil Imgs slice encode as JSON null. A non-nil empty
// Imgs encodes as [].
type OutboundEvent struct {
	Type           string     `json:"type,omitempty"`
	ID             uuid.UUID  `json:"id"`
	Username       *string    `json:"username"`
	Color          *string    `json:"color"`
	Content        string     `json:"content"`
	Imgs           []string   `json:"imgs"`
	UserCount      int        `json:"userCount"`
	ConnectedUsers []*string  `json:"connectedUsers"`
	Date           *time.Time `json:"date"`
}

// ParseInbound decodes a raw client payload. Both username and content must be
// present as strings; unknown fields are ignored.
func ParseInbound(raw []byte) (InboundMessage, error) {
	var wire struct {
		Username *string `json:"username"`
		Content  *string `json:"content"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if wire.Username == nil || wire.Content == nil {
		return InboundMessage{}, fmt.Errorf("%w: username and content are required", ErrMalformedMessage)
	}
	return InboundMessage{Username: *wire.Username, Content: *wire.Content}, nil
}
