// Package chat implements direct messaging between two users: the message
// model, content validation, the Store contract, and the Service that routes
// messages, propagates read receipts and serves conversation history.
package chat

import (
	"time"

	"github.com/whisper/dm-gateway/internal/protocol"
)

// Message is one direct message. Everything except IsRead is fixed at
// creation, and IsRead only ever moves from false to true.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	IsRead     bool
	CreatedAt  time.Time
}

// Wire converts the message to its protocol representation.
func (m Message) Wire() protocol.Message {
	return protocol.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

// Involves reports whether userID is the sender or the receiver.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// ConversationKey identifies the unordered pair {a, b}. It is the same for
// both directions of a conversation.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
