// ABOUTME: Redis-backed session Repository for multi-process deployments
// ABOUTME: Each slot is one hash holding the token and the logged-out flag

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldToken     = "token"
	redisFieldLoggedOut = "logged_out"
)

// RedisRepository stores the slot in a Redis hash.
type RedisRepository struct {
	rdb *redis.Client
	key string
	// ttl bounds how long an untouched slot survives; zero keeps it forever.
	ttl time.Duration
}

// NewRedisRepository binds a repository to prefix:slot:<slot>.
func NewRedisRepository(rdb *redis.Client, prefix, slot string, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		rdb: rdb,
		key: prefix + ":slot:" + slot,
		ttl: ttl,
	}
}

func (r *RedisRepository) touch(ctx context.Context, pipe redis.Pipeliner) {
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
}

func (r *RedisRepository) Load(ctx context.Context) (string, error) {
	token, err := r.rdb.HGet(ctx, r.key, redisFieldToken).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading token from redis: %w", err)
	}
	return token, nil
}

func (r *RedisRepository) Save(ctx context.Context, token string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, redisFieldToken, token, redisFieldLoggedOut, "0")
		r.touch(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving token to redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	if err := r.rdb.HDel(ctx, r.key, redisFieldToken).Err(); err != nil {
		return fmt.Errorf("clearing token in redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) LoggedOut(ctx context.Context) (bool, error) {
	v, err := r.rdb.HGet(ctx, r.key, redisFieldLoggedOut).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading logged-out flag from redis: %w", err)
	}
	return v == "1", nil
}

func (r *RedisRepository) SetLoggedOut(ctx context.Context, loggedOut bool) error {
	flag := "0"
	if loggedOut {
		flag = "1"
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, redisFieldLoggedOut, flag)
		r.touch(ctx, pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting logged-out flag in redis: %w", err)
	}
	return nil
}
