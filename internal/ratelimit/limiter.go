package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window counter shared by every dispatch worker through
// redis, so the provider's rate limit holds cluster-wide.
type Limiter struct {
	Client *redis.Client
	Key    string
	Limit  int
	Window time.Duration
}

func New(client *redis.Client, key string, limit int, window time.Duration) *Limiter {
	return &Limiter{Client: client, Key: key, Limit: limit, Window: window}
}

// Allow consumes one token from the current window. The first increment of
// a window sets its expiry.
func (l *Limiter) Allow(ctx context.Context) (bool, error) {
	count, err := l.Client.Incr(ctx, l.Key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.Client.PExpire(ctx, l.Key, l.Window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.Limit), nil
}
