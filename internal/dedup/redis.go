package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wa:processed:"

// RedisMarkers keeps markers as Redis keys with a native TTL.
type RedisMarkers struct {
	rdb *redis.Client
}

// NewRedisMarkers wraps an existing client.
func NewRedisMarkers(rdb *redis.Client) *RedisMarkers {
	return &RedisMarkers{rdb: rdb}
}

// NewRedisMarkersFromURL connects using a redis:// URL.
func NewRedisMarkersFromURL(ctx context.Context, url string) (*RedisMarkers, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisMarkers{rdb: rdb}, nil
}

// InsertMarker is SET NX with an expiry; Redis reclaims the key on its own.
func (r *RedisMarkers) InsertMarker(ctx context.Context, id string, now, expireAt time.Time) (bool, error) {
	ttl := expireAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	ok, err := r.rdb.SetNX(ctx, redisKeyPrefix+id, now.UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx marker: %w", err)
	}
	return ok, nil
}

// Ping reports whether Redis is reachable.
func (r *RedisMarkers) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisMarkers) Close() error {
	return r.rdb.Close()
}
