package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"notechart/domain/core"
)

// KeyPrefix namespaces analysis results in a shared Redis
const KeyPrefix = "notechart:analysis:"

// Redis shares cached results across server replicas
type Redis struct {
	rdb *goredis.Client
}

// NewRedis connects to addr and pings it
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(rdb *goredis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func key(fp core.Fingerprint) string {
	return KeyPrefix + fp.String()
}

// Get implements ports.ResultCache
func (r *Redis) Get(ctx context.Context, fp core.Fingerprint) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key(fp)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Put implements ports.ResultCache. SET replaces atomically, so the last
// writer wins.
func (r *Redis) Put(ctx context.Context, fp core.Fingerprint, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, key(fp), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (r *Redis) Close() error {
	return r.rdb.Close()
}
