package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts hits per fixed window. The window index is part of the
// Redis key, so a lost EXPIRE never pins a caller at the limit past its window.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow records one hit for key and reports whether it is within limit. A
// non-positive limit disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	slot := windowKey(key, r.now(), window)
	count, err := r.client.Incr(ctx, slot)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		// twice the window so a slot read near its boundary is still there
		if err := r.client.Expire(ctx, slot, 2*window); err != nil {
			return true, fmt.Errorf("rate limit %s: expire: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, t.UnixNano()/int64(window))
}

// WebhookKey scopes the webhook limit to one gateway and remote address.
func WebhookKey(gateway, remote string) string {
	return fmt.Sprintf("rate_limit:webhook:%s:%s", gateway, remote)
}
