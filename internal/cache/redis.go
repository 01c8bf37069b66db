package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the Redis-backed Cache. Every written key is tracked in a
// per-account index set so invalidation can delete exactly that account's
// entries.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	accountID := accountFromKey(key)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	if accountID != "" {
		index := indexKey(accountID)
		pipe.SAdd(ctx, index, key)
		// keep the index slightly longer than the entries it tracks
		pipe.Expire(ctx, index, ttl+time.Minute)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) InvalidateAccount(ctx context.Context, accountID string) error {
	index := indexKey(accountID)
	keys, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	keys = append(keys, index)
	return r.client.Del(ctx, keys...).Err()
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func indexKey(accountID string) string {
	return "query:index:" + accountID
}

func accountFromKey(key string) string {
	// keys have the form query:<account>:<kind>[:<instrument>]
	const prefix = "query:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return ""
}
