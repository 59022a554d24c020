package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCache is a networked KV tier, grounded on cascache's redis
// provider. It stands in for the original's Riak backend family: like
// Riak, it is a networked, replicated KV store. Connections are managed by
// the go-redis client's own pooling as configured by whoever builds the
// client; the pool package is not involved.
type RedisCache struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

// ErrNilRedisClient is returned by NewRedisCache when no client is given.
var ErrNilRedisClient = errors.New("cache: nil redis client")

type redisEnvelope struct {
	Value   []byte    `json:"value"`
	ModTime time.Time `json:"mod_time"`
}

// RedisOptions configures RedisCache.
type RedisOptions struct {
	Client      goredis.UniversalClient
	CloseClient bool
	KeyPrefix   string
}

// NewRedisCache wraps an already-configured redis client.
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	if opts.Client == nil {
		return nil, ErrNilRedisClient
	}
	return &RedisCache{rdb: opts.Client, closeClient: opts.CloseClient}, nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, time.Time{}, ErrMiss
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, err
	}
	return env.Value, env.ModTime, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, modTime time.Time, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	raw, err := json.Marshal(redisEnvelope{Value: value, ModTime: modTime})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisCache) MultiSet(ctx context.Context, items map[string][]byte, modTime time.Time, ttl time.Duration) error {
	pipe := c.rdb.Pipeline()
	for k, v := range items {
		raw, err := json.Marshal(redisEnvelope{Value: v, ModTime: modTime})
		if err != nil {
			return err
		}
		pipe.Set(ctx, k, raw, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisCache) Close() error {
	if c.closeClient {
		if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
