//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package chat

import (
	"context"
	"time"
)

// Store persists direct messages. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append durably records msg. It fails if msg.ID already exists.
	Append(ctx context.Context, msg Message) error

	// MarkRead flips every unread message from senderID to readerID with
	// CreatedAt at or before cutoff to read, and returns how many changed.
	MarkRead(ctx context.Context, readerID, senderID string, cutoff time.Time) (int64, error)

	// Conversation returns every message exchanged between userA and userB,
	// in either direction, oldest first. Equal timestamps keep insertion
	// order.
	Conversation(ctx context.Context, userA, userB string) ([]Message, error)
}
