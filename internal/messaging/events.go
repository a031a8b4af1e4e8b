package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Publisher is the subset of NATSClient used by event producers.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// MessageCreatedEvent is published on SubjectMessageCreated after a message
// has been persisted.
type MessageCreatedEvent struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Length     int       `json:"length"`
	Delivered  bool      `json:"delivered"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessagesReadEvent is published on SubjectMessagesRead after a read receipt
// has been applied.
type MessagesReadEvent struct {
	ReaderID string    `json:"readerId"`
	SenderID string    `json:"senderId"`
	Updated  int64     `json:"updated"`
	Cutoff   time.Time `json:"cutoff"`
}

// PresenceEvent is published on SubjectPresence for each announced
// online/offline transition.
type PresenceEvent struct {
	UserID string    `json:"userId"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// ErrUnknownSubject is returned by DecodeEvent for subjects the gateway does
// not publish.
var ErrUnknownSubject = errors.New("messaging: unknown event subject")

// DecodeEvent decodes a payload received on subject into its event struct.
func DecodeEvent(subject string, data []byte) (any, error) {
	var ev any
	switch subject {
	case SubjectMessageCreated:
		ev = &MessageCreatedEvent{}
	case SubjectMessagesRead:
		ev = &MessagesReadEvent{}
	case SubjectPresence:
		ev = &PresenceEvent{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("messaging: decode %s: %w", subject, err)
	}
	return ev, nil
}
