package dispatchlog

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSentKeyPrefix = "dispatch:last:"

// LastSentCache is a Redis-backed last-notified timestamp per
// (principal, action). It short-circuits dedup checks without a log scan;
// the dispatch log remains the source of truth when the cache is cold or
// unavailable.
type LastSentCache struct {
	client *redis.Client
}

// NewLastSentCache wraps a redis client. A nil client disables the cache.
func NewLastSentCache(client *redis.Client) *LastSentCache {
	if client == nil {
		return nil
	}
	return &LastSentCache{client: client}
}

// Get returns the cached last-sent time, or ok=false on miss or error.
// Errors degrade to a miss so a Redis outage only costs a log query.
func (c *LastSentCache) Get(ctx context.Context, principalID string, action Action) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	val, err := c.client.Get(ctx, lastSentKeyPrefix+principalID+":"+string(action)).Result()
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Set records a send with a TTL equal to the dedup window; expired keys
// cannot suppress anything, so the cache self-cleans.
func (c *LastSentCache) Set(ctx context.Context, principalID string, action Action, sentAt time.Time, window time.Duration) error {
	if c == nil {
		return nil
	}
	err := c.client.Set(ctx, lastSentKeyPrefix+principalID+":"+string(action),
		sentAt.Format(time.RFC3339Nano), window).Err()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
