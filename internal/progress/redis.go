package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores one hash per learner and course. Fields are lesson keys and
// values are RFC 3339 completion times.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a cache on an existing client. Keys are namespaced
// under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "learn"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(learnerID, courseKey string) string {
	return fmt.Sprintf("%s:progress:%s:%s", c.prefix, learnerID, courseKey)
}

func (c *RedisCache) Completions(ctx context.Context, learnerID, courseKey string) (map[string]time.Time, error) {
	fields, err := c.client.HGetAll(ctx, c.key(learnerID, courseKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading completions: %w", err)
	}
	out := make(map[string]time.Time, len(fields))
	for lesson, raw := range fields {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing completion time for %s: %w", lesson, err)
		}
		out[lesson] = at
	}
	return out, nil
}

func (c *RedisCache) Add(ctx context.Context, learnerID, courseKey, lessonKey string, at time.Time) (bool, error) {
	added, err := c.client.HSetNX(ctx, c.key(learnerID, courseKey), lessonKey, at.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return false, fmt.Errorf("writing completion: %w", err)
	}
	return added, nil
}

func (c *RedisCache) Remove(ctx context.Context, learnerID, courseKey, lessonKey string) error {
	if err := c.client.HDel(ctx, c.key(learnerID, courseKey), lessonKey).Err(); err != nil {
		return fmt.Errorf("removing completion: %w", err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context, learnerID, courseKey string) error {
	if err := c.client.Del(ctx, c.key(learnerID, courseKey)).Err(); err != nil {
		return fmt.Errorf("clearing completions: %w", err)
	}
	return nil
}
