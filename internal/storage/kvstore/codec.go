package kvstore

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/whisper/dm-gateway/internal/chat"
)

// record is the on-disk form of a message. Field keys are small integers to
// keep values compact.
type record struct {
	ID         string `cbor:"1,keyasint"`
	SenderID   string `cbor:"2,keyasint"`
	ReceiverID string `cbor:"3,keyasint"`
	Content    string `cbor:"4,keyasint"`
	IsRead     bool   `cbor:"5,keyasint"`
	CreatedAt  int64  `cbor:"6,keyasint"` // unix nanoseconds, UTC
}

// encMode uses Core Deterministic Encoding so equal records encode to equal
// bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("kvstore: CBOR encoder initialization failed: " + err.Error())
	}
}

func encode(msg chat.Message) ([]byte, error) {
	return encMode.Marshal(record{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		IsRead:     msg.IsRead,
		CreatedAt:  msg.CreatedAt.UnixNano(),
	})
}

func decode(data []byte) (chat.Message, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		IsRead:     r.IsRead,
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
	}, nil
}
