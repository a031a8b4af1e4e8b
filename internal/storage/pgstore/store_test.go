package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/whisper/dm-gateway/internal/chat"
)

// testStore connects to DATABASE_URL, or skips when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping Postgres integration test")
	}
	require.NoError(t, Migrate(dsn))

	s, err := Open(context.Background(), DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func message(from, to, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:         uuid.NewString(),
		SenderID:   from,
		ReceiverID: to,
		Content:    content,
		CreatedAt:  at,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := testStore(t)

	alice, bob := uuid.NewString(), uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	m1 := message(alice, bob, "hi", base)
	m2 := message(bob, alice, "hey", base.Add(time.Microsecond))
	m3 := message(alice, bob, "same instant", base.Add(time.Microsecond))
	for _, m := range []chat.Message{m1, m2, m3} {
		req.NoError(s.Append(ctx, m))
	}

	got, err := s.Conversation(ctx, bob, alice)
	req.NoError(err)
	req.Equal([]chat.Message{m1, m2, m3}, got)

	n, err := s.MarkRead(ctx, bob, alice, base)
	req.NoError(err)
	req.EqualValues(1, n)

	n, err = s.MarkRead(ctx, bob, alice, base.Add(time.Second))
	req.NoError(err)
	req.EqualValues(1, n)

	got, err = s.Conversation(ctx, alice, bob)
	req.NoError(err)
	req.True(got[0].IsRead)
	req.False(got[1].IsRead)
	req.True(got[2].IsRead)
}

func TestStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	m := message(uuid.NewString(), uuid.NewString(), "hi", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.Append(ctx, m))
	require.ErrorIs(t, s.Append(ctx, m), ErrDuplicateID)
}

func TestStoreEmptyConversation(t *testing.T) {
	got, err := testStore(t).Conversation(context.Background(), uuid.NewString(), uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, got)
}
