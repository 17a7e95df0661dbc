package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCacheTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisCache(rdb, "otp"), mr
}

func TestRedisCache_PutGetOverwrite(t *testing.T) {
	c, mr := newRedisCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a@x.com", "111111", time.Minute))
	require.NoError(t, c.Put(ctx, "a@x.com", "222222", time.Minute))

	got, err := c.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "222222", got)
	assert.True(t, mr.Exists("otp:a@x.com"))
	assert.Equal(t, time.Minute, mr.TTL("otp:a@x.com"))
}

func TestRedisCache_Expires(t *testing.T) {
	c, mr := newRedisCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "9000000001", "123456", 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	_, err := c.Get(ctx, "9000000001")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_CompareAndDelete(t *testing.T) {
	c, _ := newRedisCacheTest(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a@x.com", "123456", time.Minute))

	ok, err := c.CompareAndDelete(ctx, "a@x.com", "000000")
	require.NoError(t, err)
	assert.False(t, ok, "wrong code must not consume")

	ok, err = c.CompareAndDelete(ctx, "a@x.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CompareAndDelete(ctx, "a@x.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok, "code is single-use")
}

func TestRedisCache_RejectsZeroTTL(t *testing.T) {
	c, _ := newRedisCacheTest(t)
	assert.Error(t, c.Put(context.Background(), "a@x.com", "123456", 0))
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newRedisCacheTest(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a@x.com", "123456", time.Minute))
	require.NoError(t, c.Delete(ctx, "a@x.com"))
	_, err := c.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisCache_WrongCodesBurnEntry(t *testing.T) {
	c, mr := newRedisCacheTest(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a@x.com", "123456", time.Minute))

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		ok, err := c.CompareAndDelete(ctx, "a@x.com", "000000")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, time.Minute, mr.TTL("otp:attempts:a@x.com"))

	_, err := c.CompareAndDelete(ctx, "a@x.com", "000000")
	assert.ErrorIs(t, err, ErrAttemptsExceeded)
	assert.False(t, mr.Exists("otp:a@x.com"))
	assert.False(t, mr.Exists("otp:attempts:a@x.com"))

	ok, err := c.CompareAndDelete(ctx, "a@x.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_PutResetsAttempts(t *testing.T) {
	c, mr := newRedisCacheTest(t)
	c.WithMaxAttempts(2)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a@x.com", "123456", time.Minute))
	_, err := c.CompareAndDelete(ctx, "a@x.com", "000000")
	require.NoError(t, err)
	require.True(t, mr.Exists("otp:attempts:a@x.com"))

	require.NoError(t, c.Put(ctx, "a@x.com", "654321", time.Minute))
	assert.False(t, mr.Exists("otp:attempts:a@x.com"))
	_, err = c.CompareAndDelete(ctx, "a@x.com", "000000")
	require.NoError(t, err)
	ok, err := c.CompareAndDelete(ctx, "a@x.com", "654321")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisCache_RevokeOnlyMatchingCode(t *testing.T) {
	c, mr := newRedisCacheTest(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a@x.com", "222222", time.Minute))

	require.NoError(t, c.Revoke(ctx, "a@x.com", "111111"))
	assert.True(t, mr.Exists("otp:a@x.com"))

	require.NoError(t, c.Revoke(ctx, "a@x.com", "222222"))
	assert.False(t, mr.Exists("otp:a@x.com"))
}
