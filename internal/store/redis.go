package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parokia/presence/internal/models"
)

const (
	broadcastCacheKey = "broadcasts:recent"
	broadcastCacheMax = 500
	broadcastCacheTTL = 24 * time.Hour
)

// RedisStore keeps a hot cache of recent broadcasts so the common poll
// path (clients with a fresh cursor) avoids the SQL store. It also
// backs the rate limiter. The SQL store stays the store of record.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limiter middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// CacheBroadcast adds a broadcast to the recent set, trimming it to the
// newest broadcastCacheMax entries. Best-effort: callers ignore errors.
func (s *RedisStore) CacheBroadcast(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, broadcastCacheKey, redis.Z{
		Score:  float64(msg.SentAtMillis()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, broadcastCacheKey, 0, -(broadcastCacheMax + 1))
	pipe.Expire(ctx, broadcastCacheKey, broadcastCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// BroadcastsSince returns cached broadcasts with sent_at strictly after
// since, newest first. The second return is false when the cache cannot
// answer authoritatively (empty, or its oldest entry is newer than the
// cursor, so rows could be missing) and the caller must hit the store.
func (s *RedisStore) BroadcastsSince(ctx context.Context, since time.Time, limit int) ([]models.Message, bool, error) {
	oldest, err := s.client.ZRangeWithScores(ctx, broadcastCacheKey, 0, 0).Result()
	if err != nil {
		return nil, false, err
	}
	if len(oldest) == 0 || int64(oldest[0].Score) > since.UnixMilli() {
		return nil, false, nil
	}

	results, err := s.client.ZRevRangeByScore(ctx, broadcastCacheKey, &redis.ZRangeBy{
		Min:   fmt.Sprintf("(%d", since.UnixMilli()),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, false, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, true, nil
}
