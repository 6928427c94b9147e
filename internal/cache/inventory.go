package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keys for chat entities. Channel metadata is read on every
// profile and history request but changes rarely, so it gets the
// longest TTL. Search results churn with membership counts and stay
// short-lived.
const (
	channelKeyPrefix       = "channel:%d"
	channelByNameKeyPrefix = "channel_by_name:%s"
	searchKeyPrefix        = "channel_search:%s:%d:%d"
)

const (
	ChannelTTL = 5 * time.Minute
	SearchTTL  = 30 * time.Second
)

func ChannelKey(channelID uint) string {
	return fmt.Sprintf(channelKeyPrefix, channelID)
}

func ChannelByNameKey(name string) string {
	return fmt.Sprintf(channelByNameKeyPrefix, name)
}

func SearchKey(query string, limit, offset int) string {
	return fmt.Sprintf(searchKeyPrefix, query, limit, offset)
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// CacheAside tries Redis first, on miss it calls fetch (which should
// populate dest), then stores the result with ttl. fetch must write
// into dest.
func CacheAside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	if err := fetch(); err != nil {
		return err
	}

	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate removes a key; a nil client makes this a no-op.
func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// InvalidateChannel drops a channel's cached metadata after an edit or
// ownership change.
func InvalidateChannel(ctx context.Context, channelID uint, name string) {
	Invalidate(ctx, ChannelKey(channelID), ChannelByNameKey(name))
}
