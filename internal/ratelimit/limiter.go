package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Limiter enforces request quotas against a shared Redis store so limits
// hold across API replicas.
type Limiter struct {
	store limiter.Store
}

// NewLimiter constructs a Redis-backed limiter with the given key prefix.
func NewLimiter(client *redis.Client, prefix string) (*Limiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   strings.TrimSuffix(prefix, ":"),
		MaxRetry: 3,
	})
	if err != nil {
		return nil, err
	}
	return &Limiter{store: store}, nil
}

// Allow consumes one token for key under the given window and max. It
// reports whether the request may proceed, plus remaining quota and reset
// time for response headers.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	lctx, err := limiter.New(l.store, rate).Get(ctx, key)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
