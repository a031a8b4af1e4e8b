package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestLimiter connects to a local Redis on localhost:6379, or skips.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, zaptest.NewLogger(t))
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 5 * time.Second}
	id := uuid.NewString()

	for i := 0; i < rule.Limit; i++ {
		ok, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i+1)
	}

	remaining, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	require.Zero(t, remaining)

	ok, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	require.False(t, ok)

	wait, err := l.RetryAfter(ctx, id, rule)
	require.NoError(t, err)
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, rule.Window)
}

func TestRemainingUnknownIdentifier(t *testing.T) {
	l := newTestLimiter(t)
	remaining, err := l.Remaining(context.Background(), uuid.NewString(), RuleMessage)
	require.NoError(t, err)
	require.Equal(t, RuleMessage.Limit, remaining)
}
