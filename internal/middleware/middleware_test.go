package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/crowdfund-auth/internal/config"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

const secret = "0123456789abcdef0123456789abcdef"

func protected(t *testing.T, iss *utils.TokenIssuer) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		cl, ok := Claims(c)
		require.True(t, ok)
		return c.String(http.StatusOK, cl.UserID)
	}, BearerAuth(iss))
	return e
}

func get(e *echo.Echo, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerAuth(t *testing.T) {
	iss, err := utils.NewTokenIssuer(secret, time.Minute, "")
	require.NoError(t, err)
	e := protected(t, iss)
	tok, err := iss.Issue(utils.SessionClaims{UserID: "u1", Email: "a@x.io"})
	require.NoError(t, err)

	rec := get(e, "/me", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())

	rec = get(e, "/me", "bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(e, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_missing")

	rec = get(e, "/me", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(e, "/me", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_invalid")
}

func TestBearerAuthExpired(t *testing.T) {
	iss, err := utils.NewTokenIssuer(secret, time.Minute, "")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	iss.SetClock(func() time.Time { return past })
	tok, err := iss.Issue(utils.SessionClaims{UserID: "u1"})
	require.NoError(t, err)
	iss.SetClock(time.Now)

	rec := get(protected(t, iss), "/me", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_expired")
}

func limited(t *testing.T, cfg config.RateLimitConfig) (*echo.Echo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := echo.New()
	e.POST("/user/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, zap.NewNop()))
	return e, mr
}

func post(e *echo.Echo, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = ip + ":5555"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 3, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "ip_route", Prefix: "rl:auth"}
	e, mr := limited(t, cfg)

	for i := 0; i < 3; i++ {
		rec := post(e, "/user/login", "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
	}
	rec := post(e, "/user/login", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, post(e, "/user/login", "10.0.0.2").Code)
	assert.True(t, mr.Exists("rl:auth:ip:10.0.0.1:route:POST /user/login"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, Prefix: "rl"}
	e, mr := limited(t, cfg)
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(e, "/user/login", "10.0.0.1").Code)
	}
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	mw := NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil)
	e := echo.New()
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, mw)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, post(e, "/x", "10.0.0.1").Code)
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := echo.New()
	e.Use(RequestID(), RequestLogger(zap.New(core)))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "/ping", fields["route"])
	assert.EqualValues(t, http.StatusNoContent, fields["status"])
}
