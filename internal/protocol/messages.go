// Package protocol defines the WebSocket message types and structures used for
// communication between the client and the gateway. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator; payload fields sit next to "type".
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSendMessage = "sendMessage"
	TypeMarkAsRead  = "markAsRead"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeConnected         = "connected"
	TypeOnlineUsers       = "onlineUsers"
	TypeReceiveMessage    = "receiveMessage"
	TypeMessagesRead      = "messagesRead"
	TypeUserStatusChanged = "userStatusChanged"
	TypeRateLimited       = "rateLimited"
	TypeError             = "error"
	TypePong              = "pong"
)

// Presence status values carried by UserStatusChangedMsg.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Error codes carried by ErrorMsg.
const (
	CodeParseError        = "parse_error"
	CodeUnsupportedType   = "unsupported_type"
	CodeNotRegistered     = "not_registered"
	CodeValidationFailed  = "validation_failed"
	CodePersistenceFailed = "persistence_failed"
	CodeForbidden         = "forbidden"
	CodeInternal          = "internal_error"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg asks the gateway to deliver content to receiverId.
type SendMessageMsg struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkAsReadMsg marks every message received from senderId as read.
type MarkAsReadMsg struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// Message is the wire form of a stored direct message. Identifiers are always
// plain strings.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConnectedMsg is sent once the session has been admitted and registered.
type ConnectedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// OnlineUsersMsg is the snapshot of connected users sent at admission.
type OnlineUsersMsg struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

// ReceiveMessageMsg carries a newly persisted message.
type ReceiveMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// MessagesReadMsg tells a sender that readerId consumed its prior messages.
type MessagesReadMsg struct {
	Type     string `json:"type"`
	ReaderID string `json:"readerId"`
	SenderID string `json:"senderId"`
}

// UserStatusChangedMsg announces a presence transition.
type UserStatusChangedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// RateLimitedMsg is sent when a send was rejected by the rate limiter.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. Unknown or server-only types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkAsRead:
		var m MarkAsReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ErrUnknownType is returned by ParseClientMessage for types the server does
// not accept from clients.
var ErrUnknownType = fmt.Errorf("protocol: unknown client message type")

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key, overriding
// whatever the payload struct carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// MustServerMessage is NewServerMessage for payloads that are known to
// marshal, such as the structs in this package. It panics otherwise.
func MustServerMessage(msgType string, payload interface{}) []byte {
	data, err := NewServerMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return data
}
