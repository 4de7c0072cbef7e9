package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"coursepay/internal/domain"
)

// Locker is a best-effort mutual exclusion across replicas. Holders must
// finish within ttl; the key expires on its own if a holder dies.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	rdb *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{rdb: c.cli}
}

// TryLock makes a single SET NX attempt. A held key is
// domain.ErrLockNotAcquired; the reconciler simply skips that sweep.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	acquired, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	switch {
	case err != nil:
		return "", fmt.Errorf("lock %s: %w", key, err)
	case !acquired:
		return "", domain.ErrLockNotAcquired
	}
	return token, nil
}

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1], so an
// expired holder cannot release a lock someone else has since taken.
var releaseIfOwner = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if err := releaseIfOwner.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}
