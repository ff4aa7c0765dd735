package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-ledger/apiserver/config"
)

func TestLocal_BurstThenRefill(t *testing.T) {
	l := NewLocal(1, 3)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "ip:1")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "ip:2")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "ip:1")
	assert.True(t, ok)
}

func TestLocal_SweepsIdleBuckets(t *testing.T) {
	l := NewLocal(1, 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "old")
	now = now.Add(2 * idleTTL)
	_, _ = l.Allow(context.Background(), "new")

	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "new")
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_FixedWindow(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedis(client, "test", 1, 2)
	assert.Equal(t, 2*time.Second, l.Window())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "login:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "login:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, mr.TTL("test:login:10.0.0.1"))

	mr.FastForward(3 * time.Second)
	ok, err = l.Allow(ctx, "login:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_FailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedis(client, "test", 1, 1)
	mr.Close()

	ok, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestOpen(t *testing.T) {
	l, closeFn, err := Open(config.RateLimitConfig{PerSecond: 1, Burst: 5})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, l)
	assert.NoError(t, closeFn())

	mr, _ := newRedis(t)
	l, closeFn, err = Open(config.RateLimitConfig{RedisURL: "redis://" + mr.Addr(), PerSecond: 1, Burst: 5})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, l)
	assert.NoError(t, closeFn())

	_, _, err = Open(config.RateLimitConfig{RedisURL: "::not a url"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := Middleware(NewLocal(1, 1), "login", logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000").Code)
	rr := send("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rr.Body.String())
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000").Code)
}

func TestMiddleware_LogsLimiterFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	mr, client := newRedis(t)
	mr.Close()
	h := Middleware(NewRedis(client, "test", 1, 1), "login", logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "rate limiter unavailable, allowing request", hook.LastEntry().Message)
}
