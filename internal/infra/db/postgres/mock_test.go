//go:build !integration

package postgres

import (
	"context"
	"time"

	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
	red "coursepay/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerCourseRepo mocks the database repository that the Course decorator wraps.
type mockInnerCourseRepo struct {
	FindByIDFunc       func(ctx context.Context, id string) (*model.Course, error)
	ListIDsFunc        func(ctx context.Context) ([]string, error)
	FindIDBySuffixFunc func(ctx context.Context, suffix string) (string, error)
}

var _ repository.CourseCatalog = &mockInnerCourseRepo{}

func (m *mockInnerCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	return m.FindByIDFunc(ctx, id)
}
func (m *mockInnerCourseRepo) ListIDs(ctx context.Context) ([]string, error) {
	return m.ListIDsFunc(ctx)
}
func (m *mockInnerCourseRepo) FindIDBySuffix(ctx context.Context, suffix string) (string, error) {
	return m.FindIDBySuffixFunc(ctx, suffix)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	LPushFunc  func(ctx context.Context, key string, values ...interface{}) error
	LTrimFunc  func(ctx context.Context, key string, start, stop int64) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) LPush(ctx context.Context, key string, values ...interface{}) error {
	return m.LPushFunc(ctx, key, values...)
}
func (m *mockRedisClient) LTrim(ctx context.Context, key string, start, stop int64) error {
	return m.LTrimFunc(ctx, key, start, stop)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
