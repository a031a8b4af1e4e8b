package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for user hashes.
	UserPrefix = "user:"

	// OnlineSetKey holds the ids of every user currently online on any
	// gateway instance.
	OnlineSetKey = "presence:online"
)

// RedisDirectory keeps the online flag and last-seen time of each user in a
// Redis hash, and the set of online users in OnlineSetKey.
type RedisDirectory struct {
	client *redis.Client
}

var _ Directory = (*RedisDirectory)(nil)

// NewRedisDirectory returns a directory backed by client.
func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

// SetOnline records the user's presence and refreshes last_seen.
func (d *RedisDirectory) SetOnline(ctx context.Context, userID string, online bool) error {
	key := UserPrefix + userID

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"online":    online,
		"last_seen": time.Now().UTC().Unix(),
	})
	if online {
		pipe.SAdd(ctx, OnlineSetKey, userID)
	} else {
		pipe.SRem(ctx, OnlineSetKey, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("identity: set online %s: %w", userID, err)
	}
	return nil
}

// IsOnline reports whether the directory has userID marked online.
func (d *RedisDirectory) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := d.client.SIsMember(ctx, OnlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("identity: is online %s: %w", userID, err)
	}
	return ok, nil
}

// LastSeen returns when the user's presence last changed. The zero time means
// the user has never been seen.
func (d *RedisDirectory) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	ts, err := d.client.HGet(ctx, UserPrefix+userID, "last_seen").Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("identity: last seen %s: %w", userID, err)
	}
	return time.Unix(ts, 0).UTC(), nil
}
