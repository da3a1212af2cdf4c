package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/domain"
)

const withdrawalCreateWindow = time.Minute

// RateLimiter admits one more withdrawal request for a holder. A refusal is a RateLimited
// domain error carrying the retry hint; any other error means the limiter itself failed.
type RateLimiter interface {
	AdmitWithdrawal(ctx context.Context, holderID string) error
}

// RedisRateLimiter counts withdrawal requests per holder in wall-clock aligned windows.
// Each window has its own Redis key, so counters never need resetting.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, perMinute int) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "wallet:rate_limit"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  perMinute,
		window: withdrawalCreateWindow,
		now:    time.Now,
	}
}

func (r *RedisRateLimiter) AdmitWithdrawal(ctx context.Context, holderID string) error {
	holderID = strings.TrimSpace(holderID)
	if r == nil || r.client == nil || r.limit <= 0 || holderID == "" {
		return nil
	}

	win := currentWindow(r.now(), r.window)
	key := r.key(holderID, win)

	var hits *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, win.end.Add(time.Second))
		return nil
	})
	if err != nil {
		return fmt.Errorf("count withdrawal request: %w", err)
	}
	return win.admit(int(hits.Val()), r.limit)
}

func (r *RedisRateLimiter) key(holderID string, win rateWindow) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, withdrawalCreateScope, holderID, win.start.Unix())
}

// rateWindow is the fixed window that contains now.
type rateWindow struct {
	start time.Time
	end   time.Time
	now   time.Time
}

func currentWindow(now time.Time, size time.Duration) rateWindow {
	if size < time.Second {
		size = time.Second
	}
	start := now.Truncate(size)
	return rateWindow{start: start, end: start.Add(size), now: now}
}

// admit refuses the hits-th request of the window once hits exceeds limit.
func (w rateWindow) admit(hits, limit int) error {
	if hits <= limit {
		return nil
	}
	retryAfter := int(math.Ceil(w.end.Sub(w.now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return domain.WrapError(domain.KindRateLimited, "too many withdrawal requests", &domain.RateLimitError{RetryAfterSeconds: retryAfter})
}
