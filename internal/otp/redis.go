package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDeleteLua consumes a code atomically.
// KEYS[1] = code key, KEYS[2] = attempts key,
// ARGV[1] = presented code, ARGV[2] = max attempts.
// Returns 1 when consumed, 0 when absent, -1 on mismatch, -2 when the
// mismatch used up the last attempt and the code was removed.
var compareAndDeleteLua = redis.NewScript(`
local stored = redis.call('GET', KEYS[1])
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
local n = redis.call('INCR', KEYS[2])
if n >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1], KEYS[2])
  return -2
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return -1
`)

// revokeLua deletes the code only while it still holds ARGV[1].
var revokeLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

// RedisCache keeps codes in Redis so that every API replica sees the same
// outstanding code.
type RedisCache struct {
	rdb         *redis.Client
	prefix      string
	maxAttempts int
}

// NewRedisCache returns a cache storing codes as "<prefix>:<id>" and wrong
// guesses as "<prefix>:attempts:<id>".
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisCache{rdb: rdb, prefix: prefix, maxAttempts: DefaultMaxAttempts}
}

// WithMaxAttempts sets how many wrong codes an entry survives.
func (c *RedisCache) WithMaxAttempts(n int) *RedisCache {
	c.maxAttempts = maxAttemptsOr(n)
	return c
}

func (c *RedisCache) key(id string) string         { return c.prefix + ":" + id }
func (c *RedisCache) attemptsKey(id string) string { return c.prefix + ":attempts:" + id }

func (c *RedisCache) Put(ctx context.Context, id, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("otp: ttl must be positive, got %s", ttl)
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.key(id), code, ttl)
		p.Del(ctx, c.attemptsKey(id))
		return nil
	})
	return err
}

func (c *RedisCache) Get(ctx context.Context, id string) (string, error) {
	v, err := c.rdb.Get(ctx, c.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, c.key(id), c.attemptsKey(id)).Err()
}

func (c *RedisCache) CompareAndDelete(ctx context.Context, id, code string) (bool, error) {
	keys := []string{c.key(id), c.attemptsKey(id)}
	n, err := compareAndDeleteLua.Run(ctx, c.rdb, keys, code, c.maxAttempts).Int64()
	if err != nil {
		return false, err
	}
	switch n {
	case 1:
		return true, nil
	case -2:
		return false, ErrAttemptsExceeded
	}
	return false, nil
}

func (c *RedisCache) Revoke(ctx context.Context, id, code string) error {
	return revokeLua.Run(ctx, c.rdb, []string{c.key(id), c.attemptsKey(id)}, code).Err()
}
