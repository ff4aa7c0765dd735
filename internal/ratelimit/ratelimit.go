// Package ratelimit throttles requests per client key, either in process or
// shared across instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/folio-ledger/apiserver/config"
)

const idleTTL = 10 * time.Minute

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Local keeps one token bucket per key in memory.
type Local struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocal(perSecond, burst int) *Local {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Local{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Redis counts requests in fixed windows shared by every instance.
type Redis struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
}

// NewRedis allows burst requests per window, where the window is the time
// the in-process bucket needs to refill burst tokens.
func NewRedis(client *redis.Client, prefix string, perSecond, burst int) *Redis {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	window := time.Duration(burst) * time.Second / time.Duration(perSecond)
	if window < time.Second {
		window = time.Second
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix, max: int64(burst), window: window}
}

// Allow fails open: on a Redis error the request is allowed and the error returned.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count <= l.max, nil
}

// Window is the length of one counting window.
func (l *Redis) Window() time.Duration { return l.window }

// Open builds the limiter selected by cfg. The returned close function
// releases the Redis client, if any.
func Open(cfg config.RateLimitConfig) (Limiter, func() error, error) {
	if cfg.RedisURL == "" {
		return NewLocal(cfg.PerSecond, cfg.Burst), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedis(client, "folio:ratelimit", cfg.PerSecond, cfg.Burst), client.Close, nil
}

// Middleware rejects requests over the limit with 429. Requests are keyed by
// client IP; chi's RealIP middleware should run first.
func Middleware(limiter Limiter, scope string, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + clientIP(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable, allowing request")
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
