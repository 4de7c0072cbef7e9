package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	"coursepay/internal/infra/metrics"
	red "coursepay/internal/infra/redis"
)

var _ repository.CourseCatalog = (*courseRepoCacheDecorator)(nil)

const courseIDsKey = "courses:ids"

// courseRepoCacheDecorator serves catalog reads from Redis. Suffix lookups are
// not cached since they only happen for compact references.
type courseRepoCacheDecorator struct {
	inner repository.CourseCatalog
	cache red.RedisClient
	ttl   time.Duration
}

func NewCourseRepoCacheDecorator(inner repository.CourseCatalog, cache red.RedisClient, ttl time.Duration) repository.CourseCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &courseRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func (d *courseRepoCacheDecorator) FindByID(ctx context.Context, id string) (*model.Course, error) {
	key := fmt.Sprintf("course:%s", id)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var c model.Course
		if json.Unmarshal([]byte(val), &c) == nil {
			metrics.IncCacheRequest("course", "hit")
			return &c, nil
		}
	}

	metrics.IncCacheRequest("course", "miss")
	c, err := d.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(c); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return c, nil
}

func (d *courseRepoCacheDecorator) ListIDs(ctx context.Context) ([]string, error) {
	if val, err := d.cache.Get(ctx, courseIDsKey); err == nil {
		var ids []string
		if json.Unmarshal([]byte(val), &ids) == nil {
			metrics.IncCacheRequest("course_ids", "hit")
			return ids, nil
		}
	}

	metrics.IncCacheRequest("course_ids", "miss")
	ids, err := d.inner.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if b, err := json.Marshal(ids); err == nil {
			_ = d.cache.Set(ctx, courseIDsKey, b, d.ttl)
		}
	}
	return ids, nil
}

func (d *courseRepoCacheDecorator) FindIDBySuffix(ctx context.Context, suffix string) (string, error) {
	return d.inner.FindIDBySuffix(ctx, suffix)
}

// Invalidate drops cached entries after a catalog write.
func (d *courseRepoCacheDecorator) Invalidate(ctx context.Context, ids ...string) error {
	keys := []string{courseIDsKey}
	for _, id := range ids {
		keys = append(keys, fmt.Sprintf("course:%s", id))
	}
	return d.cache.Del(ctx, keys...)
}
