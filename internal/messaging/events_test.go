package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(PresenceEvent{UserID: "u1", Status: "online", At: at})
	require.NoError(t, err)

	ev, err := DecodeEvent(SubjectPresence, data)
	require.NoError(t, err)
	require.Equal(t, &PresenceEvent{UserID: "u1", Status: "online", At: at}, ev)

	data, err = json.Marshal(MessagesReadEvent{ReaderID: "b", SenderID: "a", Updated: 3})
	require.NoError(t, err)
	ev, err = DecodeEvent(SubjectMessagesRead, data)
	require.NoError(t, err)
	require.EqualValues(t, 3, ev.(*MessagesReadEvent).Updated)
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := DecodeEvent("dm.typing", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownSubject)

	_, err = DecodeEvent(SubjectMessageCreated, []byte(`{"id":`))
	require.Error(t, err)
}
