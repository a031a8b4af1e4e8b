package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/whisper/dm-gateway/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMessage(from, to, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:         uuid.NewString(),
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		CreatedAt:  at,
	}
}

func TestAppendAndConversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	alice, bob, carol := uuid.NewString(), uuid.NewString(), uuid.NewString()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m1 := newMessage(alice, bob, "hi", base)
	m2 := newMessage(bob, alice, "hey", base.Add(time.Microsecond))
	m3 := newMessage(alice, carol, "other conversation", base.Add(2*time.Microsecond))
	for _, m := range []chat.Message{m2, m1, m3} {
		req.NoError(s.Append(ctx, m))
	}

	got, err := s.Conversation(ctx, bob, alice)
	req.NoError(err)
	req.Equal([]chat.Message{m1, m2}, got)

	got, err = s.Conversation(ctx, alice, bob)
	req.NoError(err)
	req.Equal([]chat.Message{m1, m2}, got)
}

func TestConversationEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Conversation(context.Background(), uuid.NewString(), uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	alice, bob := uuid.NewString(), uuid.NewString()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var want []chat.Message
	for _, text := range []string{"one", "two", "three"} {
		m := newMessage(alice, bob, text, at)
		req.NoError(s.Append(ctx, m))
		want = append(want, m)
	}

	got, err := s.Conversation(ctx, alice, bob)
	req.NoError(err)
	req.Equal(want, got)
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := newMessage(uuid.NewString(), uuid.NewString(), "hi", time.Now().UTC())
	require.NoError(t, s.Append(ctx, m))
	require.ErrorIs(t, s.Append(ctx, m), ErrDuplicateID)
}

func TestMarkRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	alice, bob := uuid.NewString(), uuid.NewString()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fromAlice1 := newMessage(alice, bob, "1", base)
	fromBob := newMessage(bob, alice, "2", base.Add(time.Microsecond))
	fromAlice2 := newMessage(alice, bob, "3", base.Add(2*time.Microsecond))
	late := newMessage(alice, bob, "4", base.Add(time.Hour))
	for _, m := range []chat.Message{fromAlice1, fromBob, fromAlice2, late} {
		req.NoError(s.Append(ctx, m))
	}

	// bob reads alice's messages up to base+2µs
	n, err := s.MarkRead(ctx, bob, alice, base.Add(2*time.Microsecond))
	req.NoError(err)
	req.EqualValues(2, n)

	got, err := s.Conversation(ctx, alice, bob)
	req.NoError(err)
	req.Len(got, 4)
	req.True(got[0].IsRead)
	req.False(got[1].IsRead, "messages in the other direction stay unread")
	req.True(got[2].IsRead)
	req.False(got[3].IsRead, "messages after the cutoff stay unread")

	// idempotent
	n, err = s.MarkRead(ctx, bob, alice, base.Add(2*time.Microsecond))
	req.NoError(err)
	req.Zero(n)
}

func TestMarkReadNothingToMark(t *testing.T) {
	n, err := newTestStore(t).MarkRead(context.Background(), uuid.NewString(), uuid.NewString(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestStore(t)

	err := s.Append(ctx, newMessage(uuid.NewString(), uuid.NewString(), "hi", time.Now()))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCodecPreservesMessage(t *testing.T) {
	m := newMessage(uuid.NewString(), uuid.NewString(), "héllo 👋", time.Date(2026, 3, 1, 12, 0, 0, 123000, time.UTC))
	m.IsRead = true

	data, err := encode(m)
	require.NoError(t, err)
	got, err := decode(data)
	require.NoError(t, err)
	require.Equal(t, m, got)
}
